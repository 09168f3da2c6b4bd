package payload

import (
	"encoding/json"
	"math"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		wantKind   Kind
		wantBinary bool
	}{
		{"json object", []byte(`{"temp":21.5}`), KindJSON, false},
		{"json number", []byte(`42`), KindJSON, false},
		{"json string", []byte(`"on"`), KindJSON, false},
		{"json with whitespace", []byte("  {\"a\":1}\n"), KindJSON, false},
		{"plain text", []byte(`online`), KindText, false},
		{"broken json falls back to text", []byte(`{"temp":`), KindText, false},
		{"empty", nil, KindEmpty, false},
		{"whitespace only", []byte("  \n"), KindEmpty, false},
		{"binary", []byte{0xff, 0xfe, 0x00, 0x81}, KindEmpty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.raw)
			if got.Kind != tt.wantKind {
				t.Errorf("Decode(%q).Kind = %q, want %q", tt.raw, got.Kind, tt.wantKind)
			}
			if got.Binary != tt.wantBinary {
				t.Errorf("Decode(%q).Binary = %v, want %v", tt.raw, got.Binary, tt.wantBinary)
			}
		})
	}
}

func TestNumber_RejectsNonFinite(t *testing.T) {
	for _, x := range []any{math.NaN(), math.Inf(1), math.Inf(-1), json.Number("1e999")} {
		if got, ok := Number(x); ok {
			t.Errorf("Number(%v) = (%v, true), want not ok", x, got)
		}
	}
	if got, ok := Number(json.Number("2.5")); !ok || got != 2.5 {
		t.Errorf("Number(2.5) = (%v, %v)", got, ok)
	}
}

func TestValue_Number(t *testing.T) {
	tests := []struct {
		name   string
		v      Value
		want   float64
		wantOK bool
	}{
		{"json number", Decode([]byte(`21.5`)), 21.5, true},
		{"json true", Decode([]byte(`true`)), 1, true},
		{"json false", Decode([]byte(`false`)), 0, true},
		{"text number", Decode([]byte(`3.25 `)), 3.25, true},
		{"text word", Decode([]byte(`hot`)), 0, false},
		{"text nan", Decode([]byte(`nan`)), 0, false},
		{"text NaN", Decode([]byte(`NaN`)), 0, false},
		{"text inf", Decode([]byte(`inf`)), 0, false},
		{"text negative infinity", Decode([]byte(`-Infinity`)), 0, false},
		{"text overflow", Decode([]byte(`1e999`)), 0, false},
		{"object", Decode([]byte(`{"a":1}`)), 0, false},
		{"empty", Decode(nil), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Number()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Number() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestValue_Fields(t *testing.T) {
	v := Decode([]byte(`{"id":"c-1","ok":false,"error":"relay stuck"}`))

	if id, ok := v.String("id"); !ok || id != "c-1" {
		t.Errorf("String(id) = (%q, %v)", id, ok)
	}
	if okFlag, ok := v.Bool("ok"); !ok || okFlag {
		t.Errorf("Bool(ok) = (%v, %v), want (false, true)", okFlag, ok)
	}
	if _, ok := v.String("missing"); ok {
		t.Error("String(missing) reported ok")
	}
	if _, ok := Decode([]byte(`plain`)).String("id"); ok {
		t.Error("String on text payload reported ok")
	}
}

func TestValue_Any(t *testing.T) {
	if got := Decode([]byte(`hello`)).Any(); got != "hello" {
		t.Errorf("text Any() = %v", got)
	}
	if got := Decode(nil).Any(); got != nil {
		t.Errorf("empty Any() = %v, want nil", got)
	}
	m, ok := Decode([]byte(`{"a":1}`)).Any().(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Errorf("json Any() = %v", m)
	}
}

func TestJSONValue(t *testing.T) {
	if JSONValue(nil).Kind != KindEmpty {
		t.Error("JSONValue(nil) should be empty")
	}
	if JSONValue(map[string]any{"on": true}).Kind != KindJSON {
		t.Error("JSONValue(map) should be json")
	}
}
