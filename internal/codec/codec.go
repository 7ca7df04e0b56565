// Package codec imports and exports bundles of assets and relationships.
package codec

import (
	"fmt"
	"io"
	"strings"

	"cloudscope/internal/domain"
)

// Bundle is a self-contained set of assets and the relationships between them
type Bundle struct {
	Assets        []*domain.Asset        `json:"assets" yaml:"assets"`
	Relationships []*domain.Relationship `json:"relationships" yaml:"relationships"`
}

// Normalize drops nil entries and fills defaults on every entity
func (b *Bundle) Normalize() {
	assets := b.Assets[:0]
	for _, a := range b.Assets {
		if a == nil {
			continue
		}
		a.Normalize()
		assets = append(assets, a)
	}
	b.Assets = assets

	rels := b.Relationships[:0]
	for _, r := range b.Relationships {
		if r == nil {
			continue
		}
		r.Normalize()
		rels = append(rels, r)
	}
	b.Relationships = rels
}

// Importer interface for importing bundles from various formats
type Importer interface {
	Parse(r io.Reader) (*Bundle, error)
	Format() string
}

// Exporter interface for exporting bundles to various formats
type Exporter interface {
	Export(bundle *Bundle, w io.Writer) error
	Format() string
}

// Codec both imports and exports one format
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec registered under name
func ForFormat(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unknown bundle format %q", name)
	}
}

// ForPath picks a codec from a file name extension, defaulting to JSON
func ForPath(path string) Codec {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return NewYAMLCodec()
	}
	return NewJSONCodec()
}
