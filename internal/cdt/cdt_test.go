package cdt

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeEmpty(t *testing.T) {
	for _, in := range []string{"", "NULL", "null", "  "} {
		ctx, err := Decode(in)
		if err != nil {
			t.Fatalf("Decode(%q): %v", in, err)
		}
		if len(ctx) != 0 {
			t.Errorf("Decode(%q) = %v, want empty", in, ctx)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
	}{
		{"map key", Context{MapKeyStep("address"), MapKeyStep("city")}},
		{"list index", Context{ListIndexStep(0)}},
		{"negative rank", Context{ListRankStep(-1)}},
		{"mixed", Context{MapKeyStep("tags"), ListIndexStep(2), MapIntKeyStep(7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.ctx)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !got.Equal(tt.ctx) {
				t.Errorf("round trip = %v, want %v", got, tt.ctx)
			}
		})
	}
}

func TestDecodeServerPackedString(t *testing.T) {
	raw, err := msgpack.Marshal([]any{int64(MapKey), "\x03city"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := Decode(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Context{MapKeyStep("city")}
	if !ctx.Equal(want) {
		t.Errorf("got %v, want %v", ctx, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	odd, _ := msgpack.Marshal([]any{int64(MapKey)})
	unknown, _ := msgpack.Marshal([]any{int64(0x7f), "x"})
	badValue, _ := msgpack.Marshal([]any{int64(MapKey), 1.5})

	tests := []struct {
		name string
		in   string
		want error
	}{
		{"odd", base64.StdEncoding.EncodeToString(odd), ErrOddContext},
		{"unknown step", base64.StdEncoding.EncodeToString(unknown), ErrUnknownStep},
		{"bad value", base64.StdEncoding.EncodeToString(badValue), ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Decode("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestKey(t *testing.T) {
	if got := Context(nil).Key(); got != "" {
		t.Errorf("empty key = %q", got)
	}
	ctx := Context{MapKeyStep("a"), ListIndexStep(3)}
	if got, want := ctx.Key(), `mapKey("a").listIndex(3)`; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
	if ctx.Equal(Context{MapKeyStep("a")}) {
		t.Error("contexts of different length should differ")
	}
	clone := ctx.Clone()
	clone[0] = MapKeyStep("b")
	if ctx[0].Value != "a" {
		t.Error("Clone shares backing array")
	}
}
