package codec

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// Parse imports a bundle from YAML. An empty document yields an empty bundle.
func (c *YAMLCodec) Parse(r io.Reader) (*Bundle, error) {
	var bundle Bundle
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&bundle); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	bundle.Normalize()
	return &bundle, nil
}

// Export writes a bundle as YAML
func (c *YAMLCodec) Export(bundle *Bundle, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(bundle); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
