// Package fields implements the length-prefixed, typed-field wire envelope
// shared by the handshake and application messages exchanged with Spearhead.
//
// Wire form: an 8-byte big-endian total length followed by repeated
// 4-byte-big-endian-length-with-type || 1-byte-type || value entries. All
// multi-byte integers on this wire are big-endian; this is the opposite
// convention from the little-endian shared-memory C-ABI records in
// internal/shm and internal/rules, which must never be confused with this
// package's encoding.
package fields

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of value carried by a Field.
type Type uint8

// Field type tags, matching the wire protocol exactly.
const (
	TypeInt  Type = 0
	TypeRaw  Type = 1
	TypeText Type = 2
)

var typeNames = [...]string{"Int", "Raw", "Text"}

const unknownFmt = "Unknown(%d)"

// String returns the human-readable name of t.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf(unknownFmt, uint8(t))
}

// Sentinel errors returned by Decode and the Cursor consume methods.
var (
	// ErrInvalidData indicates the buffer is shorter than a declared field length.
	ErrInvalidData = errors.New("fields: invalid data")

	// ErrOutOfBounds indicates the cursor was asked to read past the last field.
	ErrOutOfBounds = errors.New("fields: cursor out of bounds")

	// ErrTypeMismatch indicates the next field's type differs from the one requested.
	ErrTypeMismatch = errors.New("fields: type mismatch")

	// ErrIntSize indicates an Int field's value is not exactly 8 bytes.
	ErrIntSize = errors.New("fields: int field must be exactly 8 bytes")
)

// Field is a single tagged value within a Fields envelope.
type Field struct {
	Type  Type
	Value []byte
}

// Int returns a Field carrying a signed 64-bit big-endian integer.
func Int(v int64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return Field{Type: TypeInt, Value: buf}
}

// Raw returns a Field carrying opaque bytes.
func Raw(v []byte) Field {
	return Field{Type: TypeRaw, Value: v}
}

// Text returns a Field carrying a UTF-8 string.
func Text(v string) Field {
	return Field{Type: TypeText, Value: []byte(v)}
}

// Fields is an ordered sequence of Field values.
type Fields []Field

// Builder accumulates Field values before encoding.
type Builder struct {
	fields Fields
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddInt appends an Int field.
func (b *Builder) AddInt(v int64) *Builder {
	b.fields = append(b.fields, Int(v))
	return b
}

// AddRaw appends a Raw field.
func (b *Builder) AddRaw(v []byte) *Builder {
	b.fields = append(b.fields, Raw(v))
	return b
}

// AddText appends a Text field.
func (b *Builder) AddText(v string) *Builder {
	b.fields = append(b.fields, Text(v))
	return b
}

// Build returns the accumulated Fields.
func (b *Builder) Build() Fields {
	return b.fields
}

// -------------------------------------------------------------------------
// Encoding
// -------------------------------------------------------------------------

// EncodeNoLength serializes fs as the repeated
// length-with-type || type || value entries, without the outer 8-byte
// total-length prefix. Used when the result will be encrypted and re-framed
// by the SecureChannel, which supplies its own length prefix around the
// ciphertext.
func EncodeNoLength(fs Fields) []byte {
	var out []byte
	for _, f := range fs {
		out = append(out, entryBytes(f)...)
	}
	return out
}

// Encode serializes fs with the 8-byte big-endian total-length prefix.
func Encode(fs Fields) []byte {
	body := EncodeNoLength(fs)
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[:8], uint64(len(body)))
	copy(out[8:], body)
	return out
}

func entryBytes(f Field) []byte {
	entry := make([]byte, 4+1+len(f.Value))
	binary.BigEndian.PutUint32(entry[:4], uint32(1+len(f.Value)))
	entry[4] = byte(f.Type)
	copy(entry[5:], f.Value)
	return entry
}

// -------------------------------------------------------------------------
// Decoding
// -------------------------------------------------------------------------

// Decode parses the body of a Fields envelope (without the 8-byte total
// length prefix) into an ordered Fields slice. It fails if a declared entry
// length would exceed the remaining buffer.
func Decode(body []byte) (Fields, error) {
	var out Fields
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, ErrInvalidData
		}
		entryLen := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		if entryLen < 1 || uint64(entryLen) > uint64(len(body)) {
			return nil, ErrInvalidData
		}
		typ := Type(body[0])
		value := body[1:entryLen]
		out = append(out, Field{Type: typ, Value: append([]byte(nil), value...)})
		body = body[entryLen:]
	}
	return out, nil
}

// DecodeBody is an alias for Decode, named to mirror "total_len || payload"
// framing at call sites that have already stripped the 8-byte length prefix.
func DecodeBody(body []byte) (Fields, error) {
	return Decode(body)
}

// -------------------------------------------------------------------------
// Cursor
// -------------------------------------------------------------------------

// Cursor reads Fields in order, tracking position. It is stateful but owned
// by the caller holding a Fields value, never by the envelope itself.
type Cursor struct {
	fs  Fields
	pos int
}

// NewCursor returns a Cursor positioned at the start of fs.
func NewCursor(fs Fields) *Cursor {
	return &Cursor{fs: fs}
}

func (c *Cursor) next(want Type) (Field, error) {
	if c.pos >= len(c.fs) {
		return Field{}, ErrOutOfBounds
	}
	f := c.fs[c.pos]
	if f.Type != want {
		return Field{}, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, f.Type)
	}
	c.pos++
	return f, nil
}

// ConsumeInt returns the next field as a signed 64-bit integer.
func (c *Cursor) ConsumeInt() (int64, error) {
	f, err := c.next(TypeInt)
	if err != nil {
		return 0, err
	}
	if len(f.Value) != 8 {
		return 0, ErrIntSize
	}
	return int64(binary.BigEndian.Uint64(f.Value)), nil
}

// ConsumeRaw returns the next field's raw bytes.
func (c *Cursor) ConsumeRaw() ([]byte, error) {
	f, err := c.next(TypeRaw)
	if err != nil {
		return nil, err
	}
	return f.Value, nil
}

// ConsumeText returns the next field as a string. Invalid UTF-8 is not
// rejected here: decode already copied raw bytes, and a lossy string keeps
// the control loop alive per the wire contract.
func (c *Cursor) ConsumeText() (string, error) {
	f, err := c.next(TypeText)
	if err != nil {
		return "", err
	}
	return string(f.Value), nil
}

// ConsumeAny returns the next field regardless of type.
func (c *Cursor) ConsumeAny() (Field, error) {
	if c.pos >= len(c.fs) {
		return Field{}, ErrOutOfBounds
	}
	f := c.fs[c.pos]
	c.pos++
	return f, nil
}

// Remaining reports how many fields have not yet been consumed.
func (c *Cursor) Remaining() int {
	return len(c.fs) - c.pos
}
