package repository

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON encodes v without HTML escaping, so the stored text contains
// &, < and > as written and substring prefilters over it see the raw values
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// JSONEscape returns s as it appears inside a JSON string produced by
// MarshalJSON, without the surrounding quotes
func JSONEscape(s string) string {
	data, err := MarshalJSON(s)
	if err != nil || len(data) < 2 {
		return s
	}
	return string(data[1 : len(data)-1])
}

// ASCIIOnly reports whether s has no multi-byte characters. Case folding in
// SQL engines is only reliable for ASCII.
func ASCIIOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
