// Package payload decodes raw MQTT payloads into a tagged value.
//
// Decode never fails. A payload is JSON if it parses as JSON, otherwise
// text if it is valid UTF-8, otherwise empty (binary or zero-length).
package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind tags a decoded payload.
type Kind string

// Payload kinds.
const (
	KindJSON  Kind = "json"
	KindText  Kind = "text"
	KindEmpty Kind = "empty"
)

// Value is a decoded payload. Exactly one of JSON or Text is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind
	JSON any
	Text string
	// Binary is set when the payload was non-empty but not UTF-8.
	Binary bool
}

// Decode converts raw bytes to a Value.
func Decode(raw []byte) Value {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{Kind: KindEmpty}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return Value{Kind: KindJSON, JSON: v}
	}

	if utf8.Valid(raw) {
		return Value{Kind: KindText, Text: string(raw)}
	}

	return Value{Kind: KindEmpty, Binary: true}
}

// JSONValue wraps an already-decoded value, e.g. from an HTTP request body.
func JSONValue(v any) Value {
	if v == nil {
		return Value{Kind: KindEmpty}
	}
	return Value{Kind: KindJSON, JSON: v}
}

// Any returns the value as stored in device state: the decoded JSON, the
// text, or nil for empty payloads.
func (v Value) Any() any {
	switch v.Kind {
	case KindJSON:
		return v.JSON
	case KindText:
		return v.Text
	default:
		return nil
	}
}

// Object returns the payload as a JSON object.
func (v Value) Object() (map[string]any, bool) {
	if v.Kind != KindJSON {
		return nil, false
	}
	m, ok := v.JSON.(map[string]any)
	return m, ok
}

// Number returns the payload as a number. Text payloads holding a decimal
// number are accepted; JSON booleans map to 0/1. NaN and infinities are
// never reported as numbers.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindJSON:
		return Number(v.JSON)
	case KindText:
		f, err := strconv.ParseFloat(string(bytes.TrimSpace([]byte(v.Text))), 64)
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

// Number converts a decoded JSON scalar to float64. Booleans map to 0/1.
func Number(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, finite(n)
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// String returns a string field of a JSON object payload.
func (v Value) String(key string) (string, bool) {
	m, ok := v.Object()
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// Bool returns a bool field of a JSON object payload.
func (v Value) Bool(key string) (bool, bool) {
	m, ok := v.Object()
	if !ok {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}
