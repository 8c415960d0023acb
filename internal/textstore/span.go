package textstore

import "fmt"

// Flags describe how a span's endpoints react to edits and what the span means.
type Flags uint32

const (
	// StartPoint gives the start endpoint point gravity: text inserted exactly
	// at the endpoint ends up before it. Without it the endpoint is a mark and
	// stays before inserted text.
	StartPoint Flags = 1 << iota
	// EndPoint gives the end endpoint point gravity.
	EndPoint
)

const (
	// FlagComposing marks the span as part of the input method's pre-edit region.
	FlagComposing Flags = 1 << 8
	// FlagIntermediate marks a span change that will be followed by another
	// one completing it (the first half of a two-call selection update).
	FlagIntermediate Flags = 1 << 9
)

// Named endpoint gravity combinations.
const (
	SpanMarkMark   Flags = 0
	SpanMarkPoint  Flags = EndPoint
	SpanPointMark  Flags = StartPoint
	SpanPointPoint Flags = StartPoint | EndPoint

	SpanExclusiveExclusive = SpanPointMark
	SpanInclusiveInclusive = SpanMarkPoint
	SpanExclusiveInclusive = SpanPointPoint
	SpanInclusiveExclusive = SpanMarkMark

	gravityMask = StartPoint | EndPoint
)

// Gravity returns only the endpoint gravity bits of f.
func (f Flags) Gravity() Flags { return f & gravityMask }

// Composing reports whether FlagComposing is set.
func (f Flags) Composing() bool { return f&FlagComposing != 0 }

// Intermediate reports whether FlagIntermediate is set.
func (f Flags) Intermediate() bool { return f&FlagIntermediate != 0 }

type selectionKey struct{ name string }

func (k *selectionKey) String() string { return k.name }

// Selection endpoints are stored as point spans under these keys.
var (
	SelectionStart any = &selectionKey{"selection-start"}
	SelectionEnd   any = &selectionKey{"selection-end"}
)

// IsSelectionKey reports whether key is one of the selection endpoint keys.
func IsSelectionKey(key any) bool {
	return key == SelectionStart || key == SelectionEnd
}

// StyleVersion is the layout version of Style understood by this package.
const StyleVersion = 1

// Color is a packed ARGB value. Zero means "not set".
type Color uint32

// Style holds the character attributes a styling layer attaches to a span.
// It replaces reflective lookups on platform paint objects with plain fields.
type Style struct {
	Version            uint8
	Underline          bool
	UnderlineColor     Color
	UnderlineThickness float32
	ForeColor          Color
	BackColor          Color
}

// UnderlineStyle returns a style with a plain underline, the common decoration
// input methods put on composing text.
func UnderlineStyle() Style {
	return Style{Version: StyleVersion, Underline: true}
}

// MergeInto paints s over dst. Set fields of s win; unset fields leave dst alone.
func (s Style) MergeInto(dst *Style) {
	if s.Version > dst.Version {
		dst.Version = s.Version
	}
	if s.Underline {
		dst.Underline = true
	}
	if s.UnderlineColor != 0 {
		dst.UnderlineColor = s.UnderlineColor
		dst.UnderlineThickness = s.UnderlineThickness
	}
	if s.ForeColor != 0 {
		dst.ForeColor = s.ForeColor
	}
	if s.BackColor != 0 {
		dst.BackColor = s.BackColor
	}
}

// Span is an annotation over [Start, End) of a store or text.
// Key identifies the span and must be comparable.
type Span struct {
	Key   any
	Start int
	End   int
	Flags Flags
	Style *Style
}

// Styled reports whether the span carries character style attributes.
func (s Span) Styled() bool { return s.Style != nil }

func (s Span) String() string {
	return fmt.Sprintf("span(%v %d-%d %#x)", s.Key, s.Start, s.End, uint32(s.Flags))
}

// Filter selects spans in queries. A nil Filter accepts every span.
type Filter func(Span) bool

// StyleSpans accepts spans that carry a Style.
func StyleSpans(s Span) bool { return s.Style != nil }

// ComposingSpans accepts spans flagged as composing.
func ComposingSpans(s Span) bool { return s.Flags.Composing() }

func (f Filter) accept(s Span) bool {
	return f == nil || f(s)
}

func cloneStyle(st *Style) *Style {
	if st == nil {
		return nil
	}
	c := *st
	return &c
}

// moveEndpoint relocates an endpoint p after [st,en) is replaced by n runes.
func moveEndpoint(p, st, en, n int, point bool) int {
	switch {
	case p < st:
		return p
	case p > en:
		return p + n - (en - st)
	case point:
		if p == st && st < en {
			return st
		}
		return st + n
	default:
		if p == en && st < en {
			return st + n
		}
		return st
	}
}

// overlaps reports whether a span [ss,se] should be returned by a query over
// [start,end]. Non-empty spans merely touching a non-empty query are excluded.
func overlaps(ss, se, start, end int) bool {
	if ss > end || se < start {
		return false
	}
	if ss != se && start != end {
		if ss == end || se == start {
			return false
		}
	}
	return true
}
