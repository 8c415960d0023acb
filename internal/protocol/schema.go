package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://imebridge.invalid/schema/"

var schemaFiles = map[Kind]string{
	KindResetInputState:     "empty.schema.json",
	KindReplyToEvent:        "empty.schema.json",
	KindCancelComposition:   "empty.schema.json",
	KindFocusChange:         "focus-change.schema.json",
	KindTextChanged:         "text-changed.schema.json",
	KindSelectionChanged:    "selection-changed.schema.json",
	KindEnabledStateChanged: "enabled-state-changed.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[Kind]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[Kind]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	added := make(map[string]bool)
	for _, name := range schemaFiles {
		if added[name] {
			continue
		}
		added[name] = true
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}

	out := make(map[Kind]*jsonschema.Schema, len(schemaFiles))
	for kind, name := range schemaFiles {
		s, err := compiler.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[kind] = s
	}
	return out, nil
}

// ValidatePayload checks an inbound payload against the JSON Schema for kind.
// Outbound kinds are not validated.
func ValidatePayload(kind Kind, payload []byte) error {
	if !kind.Inbound() {
		return nil
	}
	schemasOnce.Do(func() { schemas, schemasErr = compileSchemas() })
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: no schema for %s", ErrUnknownKind, kind)
	}

	if len(payload) == 0 {
		payload = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, kind, err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, kind, err)
	}
	return nil
}
