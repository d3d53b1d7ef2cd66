// Package canonical encodes values as deterministic JSON: keys sorted at
// every level, numbers in their original text, no HTML escaping.
package canonical

import (
	"bytes"
	"encoding/json"
)

// Marshal returns the compact canonical encoding of v without a trailing
// newline.
func Marshal(v any) ([]byte, error) {
	out, err := encode(v, "")
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(out, []byte("\n")), nil
}

// MarshalIndent returns the two-space indented canonical encoding of v,
// terminated by a newline.
func MarshalIndent(v any) ([]byte, error) {
	return encode(v, "  ")
}

// encode round-trips v through a generic decode so struct fields and map
// keys alike come out sorted.
func encode(v any, indent string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
