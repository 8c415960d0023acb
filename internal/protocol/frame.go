package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x494d4542 // "IMEB"
)

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// MaxPayload bounds the payload of a single frame.
const MaxPayload = 64 * 1024 * 1024

// Header flags
const (
	FlagJSON uint8 = 0x04 // payload is JSON encoded
)

// Header is the fixed-size frame header.
type Header struct {
	Magic   uint32 // Protocol magic number
	Version uint8  // Protocol version
	Flags   uint8  // Frame flags
	Kind    Kind   // Message kind
	Session uint32 // Focus session the message belongs to
	Length  uint32 // Payload length (not including header)
}

// Frame wraps a header and its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// NewFrame creates a frame for the given kind, session and payload.
func NewFrame(kind Kind, session uint32, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Magic:   ProtocolMagic,
			Version: ProtocolVersion,
			Flags:   FlagJSON,
			Kind:    kind,
			Session: session,
			Length:  uint32(len(payload)),
		},
		Payload: payload,
	}
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint32(buf[8:12], h.Session)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and checks a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: buf[4],
		Flags:   buf[5],
		Kind:    Kind(binary.BigEndian.Uint16(buf[6:8])),
		Session: binary.BigEndian.Uint32(buf[8:12]),
		Length:  binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the whole frame to w in a single call, so concurrent writers
// serialized by a mutex never interleave partial frames.
func (f *Frame) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.Header.Length = uint32(len(f.Payload))
	f.Header.put(buf)
	copy(buf[HeaderSize:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads a complete frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	f := &Frame{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		f.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}
