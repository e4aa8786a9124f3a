package fields_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/k9dev/scout-agent/internal/fields"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fs   fields.Fields
	}{
		{"empty", fields.Fields{}},
		{"single int", fields.Fields{fields.Int(42)}},
		{"mixed", fields.Fields{fields.Int(-7), fields.Text("ok"), fields.Raw([]byte{0x00, 0xff})}},
		{"text with unicode", fields.Fields{fields.Text("héllo wörld")}},
		{"empty raw", fields.Fields{fields.Raw(nil)}},
		{"large raw", fields.Fields{fields.Raw(bytes.Repeat([]byte{0xAB}, 4096))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded := fields.Encode(tt.fs)
			body := encoded[8:]

			decoded, err := fields.Decode(body)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}

			if len(decoded) != len(tt.fs) {
				t.Fatalf("Decode() returned %d fields, want %d", len(decoded), len(tt.fs))
			}
			for i := range tt.fs {
				if decoded[i].Type != tt.fs[i].Type {
					t.Errorf("field[%d].Type = %v, want %v", i, decoded[i].Type, tt.fs[i].Type)
				}
				if !bytes.Equal(decoded[i].Value, tt.fs[i].Value) && !(len(decoded[i].Value) == 0 && len(tt.fs[i].Value) == 0) {
					t.Errorf("field[%d].Value = %x, want %x", i, decoded[i].Value, tt.fs[i].Value)
				}
			}
		})
	}
}

// TestE1FieldCodecSeed exercises the exact byte layout given as seed E1.
func TestE1FieldCodecSeed(t *testing.T) {
	t.Parallel()

	fs := fields.Fields{
		fields.Int(42),
		fields.Text("ok"),
		fields.Raw([]byte{0x00, 0xFF}),
	}

	wantBody, err := hex.DecodeString(
		"0000000900000000000000002A" +
			"0000000302" + "6F6B" +
			"0000000301" + "00FF",
	)
	if err != nil {
		t.Fatalf("decode expected hex: %v", err)
	}

	got := fields.Encode(fs)
	if !bytes.Equal(got[8:], wantBody) {
		t.Fatalf("Encode() body = %x, want %x", got[8:], wantBody)
	}
	if len(got) != 8+len(wantBody) {
		t.Fatalf("Encode() total length prefix does not match body length")
	}

	decoded, err := fields.Decode(got[8:])
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("Decode() returned %d fields, want 3", len(decoded))
	}
}

func TestDecodeTruncatedLengthFails(t *testing.T) {
	t.Parallel()

	body := []byte{0x00, 0x00, 0x00, 0xFF, 0x02, 'o', 'k'}
	if _, err := fields.Decode(body); err == nil {
		t.Fatal("Decode() with declared length exceeding buffer returned nil error")
	}
}

func TestCursorConsume(t *testing.T) {
	t.Parallel()

	fs := fields.Fields{fields.Text("hello"), fields.Int(7), fields.Raw([]byte{1, 2, 3})}
	c := fields.NewCursor(fs)

	text, err := c.ConsumeText()
	if err != nil || text != "hello" {
		t.Fatalf("ConsumeText() = %q, %v", text, err)
	}

	n, err := c.ConsumeInt()
	if err != nil || n != 7 {
		t.Fatalf("ConsumeInt() = %d, %v", n, err)
	}

	raw, err := c.ConsumeRaw()
	if err != nil || !bytes.Equal(raw, []byte{1, 2, 3}) {
		t.Fatalf("ConsumeRaw() = %x, %v", raw, err)
	}

	if c.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", c.Remaining())
	}

	if _, err := c.ConsumeAny(); err == nil {
		t.Fatal("ConsumeAny() past the end returned nil error, want ErrOutOfBounds")
	}
}

func TestConsumeTextToleratesInvalidUTF8(t *testing.T) {
	t.Parallel()

	invalid := []byte{'h', 'i', 0xff, 0xfe, 'x'}
	fs := fields.Fields{{Type: fields.TypeText, Value: invalid}}
	c := fields.NewCursor(fs)

	text, err := c.ConsumeText()
	if err != nil {
		t.Fatalf("ConsumeText() error: %v, want nil for invalid UTF-8", err)
	}
	if text != string(invalid) {
		t.Errorf("ConsumeText() = %q, want the raw bytes %q reproduced verbatim", text, invalid)
	}
}

func TestCursorTypeMismatch(t *testing.T) {
	t.Parallel()

	c := fields.NewCursor(fields.Fields{fields.Int(1)})
	if _, err := c.ConsumeText(); err == nil {
		t.Fatal("ConsumeText() on an Int field returned nil error, want ErrTypeMismatch")
	}
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	fs := fields.NewBuilder().AddText("mac").AddText("heartbeat").AddText("{}").Build()
	if len(fs) != 3 {
		t.Fatalf("Build() returned %d fields, want 3", len(fs))
	}
}
