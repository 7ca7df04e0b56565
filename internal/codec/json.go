package codec

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse imports a bundle from JSON
func (c *JSONCodec) Parse(r io.Reader) (*Bundle, error) {
	var bundle Bundle
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	bundle.Normalize()
	return &bundle, nil
}

// Export writes a bundle as indented JSON
func (c *JSONCodec) Export(bundle *Bundle, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(bundle); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
