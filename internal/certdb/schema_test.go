package certdb

import (
	"strings"
	"testing"
)

func TestPrefixSchema_Dir(t *testing.T) {
	t.Parallel()
	fp := "abcdef" + strings.Repeat("0", 58)
	tests := []struct {
		name   string
		schema Schema
		want   string
	}{
		{"flat", FlatSchema{}, ""},
		{"default", DefaultSchema(), "ab/cd"},
		{"one level", PrefixSchema{Levels: 1, Width: 2}, "ab"},
		{"three levels width one", PrefixSchema{Levels: 3, Width: 1}, "a/b/c"},
		{"two levels width three", PrefixSchema{Levels: 2, Width: 3}, "abc/def"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.schema.Dir(fp); got != tt.want {
				t.Errorf("Dir = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSchema(t *testing.T) {
	t.Parallel()
	tests := []struct {
		levels  int
		want    Schema
		wantErr bool
	}{
		{0, FlatSchema{}, false},
		{1, PrefixSchema{Levels: 1, Width: 2}, false},
		{3, PrefixSchema{Levels: 3, Width: 2}, false},
		{5, nil, true},
		{-1, nil, true},
	}
	for _, tt := range tests {
		got, err := NewSchema(tt.levels)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSchema(%d) err = %v", tt.levels, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NewSchema(%d) = %#v, want %#v", tt.levels, got, tt.want)
		}
	}
}

func TestSchemaFromConfig(t *testing.T) {
	// WHY: A corrupted or hand-edited storage config must not produce a
	// schema that maps fingerprints somewhere unexpected.
	t.Parallel()
	for _, s := range []Schema{FlatSchema{}, DefaultSchema(), PrefixSchema{Levels: 4, Width: 4}} {
		got, err := SchemaFromConfig(schemaConfig(s))
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("round trip of %#v gave %#v", s, got)
		}
	}
	bad := []SchemaConfig{
		{Name: "hashed"},
		{Name: SchemaPrefix, Levels: 0, Width: 2},
		{Name: SchemaPrefix, Levels: 2, Width: 9},
	}
	for _, cfg := range bad {
		if _, err := SchemaFromConfig(cfg); err == nil {
			t.Errorf("SchemaFromConfig(%+v) should fail", cfg)
		}
	}
}

func TestParseState(t *testing.T) {
	t.Parallel()
	for _, s := range States() {
		got, err := ParseState(strings.ToUpper(s.String()))
		if err != nil {
			t.Fatal(err)
		}
		if got != s {
			t.Errorf("ParseState(%q) = %v", s.String(), got)
		}
	}
	if got, _ := ParseState("unavailable"); got != StateBroken {
		t.Errorf("unavailable should map to broken, got %v", got)
	}
	if _, err := ParseState("lost"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestState_Supersedes(t *testing.T) {
	t.Parallel()
	states := States()
	for i, s := range states {
		for j, prev := range states {
			if got := s.Supersedes(prev); got != (i > j) {
				t.Errorf("%v.Supersedes(%v) = %v", s, prev, got)
			}
		}
	}
}
