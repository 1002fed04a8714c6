package certdb

import (
	"fmt"
	"strings"
)

// Schema maps a fingerprint to the directory that holds it, relative to the
// store's certificate tree. Implementations must return a slash separated
// path of the fingerprint's own characters, or "" for the tree root.
type Schema interface {
	Name() string
	Dir(fingerprint string) string
}

// Schema names recorded in the storage config.
const (
	SchemaFlat   = "flat"
	SchemaPrefix = "prefix"
)

const (
	defaultLevels = 2
	defaultWidth  = 2
	maxLevels     = 4
	maxWidth      = 4
)

// FlatSchema keeps every certificate in a single directory.
type FlatSchema struct{}

func (FlatSchema) Name() string { return SchemaFlat }

func (FlatSchema) Dir(string) string { return "" }

// PrefixSchema shards certificates into Levels nested directories, each
// named by the next Width characters of the fingerprint. The default
// (2 levels, width 2) stores abcdef... under ab/cd/.
type PrefixSchema struct {
	Levels int
	Width  int
}

func (PrefixSchema) Name() string { return SchemaPrefix }

func (s PrefixSchema) Dir(fingerprint string) string {
	parts := make([]string, 0, s.Levels)
	for i := range s.Levels {
		start := i * s.Width
		end := start + s.Width
		if end > len(fingerprint) {
			break
		}
		parts = append(parts, fingerprint[start:end])
	}
	return strings.Join(parts, "/")
}

func (s PrefixSchema) validate() error {
	if s.Levels < 1 || s.Levels > maxLevels {
		return fmt.Errorf("prefix schema levels %d out of range 1..%d", s.Levels, maxLevels)
	}
	if s.Width < 1 || s.Width > maxWidth {
		return fmt.Errorf("prefix schema width %d out of range 1..%d", s.Width, maxWidth)
	}
	return nil
}

// DefaultSchema returns the two level, two character prefix schema.
func DefaultSchema() Schema {
	return PrefixSchema{Levels: defaultLevels, Width: defaultWidth}
}

// NewSchema returns the flat schema for levels 0 and a two character
// prefix schema with the given depth otherwise.
func NewSchema(levels int) (Schema, error) {
	if levels == 0 {
		return FlatSchema{}, nil
	}
	s := PrefixSchema{Levels: levels, Width: defaultWidth}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// SchemaFromConfig rebuilds the schema recorded in a storage config.
func SchemaFromConfig(cfg SchemaConfig) (Schema, error) {
	switch cfg.Name {
	case SchemaFlat:
		return FlatSchema{}, nil
	case SchemaPrefix:
		s := PrefixSchema{Levels: cfg.Levels, Width: cfg.Width}
		if err := s.validate(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage schema %q", cfg.Name)
	}
}

func schemaConfig(s Schema) SchemaConfig {
	cfg := SchemaConfig{Name: s.Name()}
	if p, ok := s.(PrefixSchema); ok {
		cfg.Levels = p.Levels
		cfg.Width = p.Width
	}
	return cfg
}
