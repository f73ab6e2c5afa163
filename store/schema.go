package store

import (
	"fmt"
	"strings"
)

// FieldID is the system-generated identifier field. It is assigned on
// insert and immutable afterwards; callers never supply it.
const FieldID = "id"

// Kind enumerates the supported field value types.
type Kind int

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Field declares one typed field of an entity schema.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Composite declares one secondary-key definition: an ordered list of
// field names whose encoded concatenation forms the lookup key.
type Composite struct {
	Name   string
	Fields []string
}

// Schema is the static descriptor of one entity type: its typed fields
// and composite-key definitions. A Schema must pass Validate before use.
type Schema struct {
	Name       string
	Fields     []Field
	Composites []Composite
}

// Validate checks the schema for structural errors: empty or duplicate
// names, unknown composite fields, reserved names.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("lattice: schema name is empty")
	}
	if strings.Contains(s.Name, "!") {
		return fmt.Errorf("lattice: schema name %q contains reserved character '!'", s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("lattice: schema %q declares no fields", s.Name)
	}

	fields := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("lattice: schema %q: field with empty name", s.Name)
		}
		if f.Name == FieldID {
			return fmt.Errorf("lattice: schema %q: field name %q is reserved", s.Name, FieldID)
		}
		if f.Kind < KindString || f.Kind > KindTime {
			return fmt.Errorf("lattice: schema %q: field %q has invalid kind", s.Name, f.Name)
		}
		if fields[f.Name] {
			return fmt.Errorf("lattice: schema %q: duplicate field %q", s.Name, f.Name)
		}
		fields[f.Name] = true
	}

	composites := make(map[string]bool, len(s.Composites))
	for _, c := range s.Composites {
		if c.Name == "" {
			return fmt.Errorf("lattice: schema %q: composite with empty name", s.Name)
		}
		if strings.Contains(c.Name, "!") {
			return fmt.Errorf("lattice: schema %q: composite name %q contains reserved character '!'", s.Name, c.Name)
		}
		if composites[c.Name] {
			return fmt.Errorf("lattice: schema %q: duplicate composite %q", s.Name, c.Name)
		}
		composites[c.Name] = true
		if len(c.Fields) == 0 {
			return fmt.Errorf("lattice: schema %q: composite %q has no fields", s.Name, c.Name)
		}
		seen := make(map[string]bool, len(c.Fields))
		for _, name := range c.Fields {
			if !fields[name] {
				return fmt.Errorf("lattice: schema %q: composite %q references unknown field %q", s.Name, c.Name, name)
			}
			if seen[name] {
				return fmt.Errorf("lattice: schema %q: composite %q repeats field %q", s.Name, c.Name, name)
			}
			seen[name] = true
		}
	}

	return nil
}

func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) composite(name string) (Composite, bool) {
	for _, c := range s.Composites {
		if c.Name == name {
			return c, true
		}
	}
	return Composite{}, false
}

// Collection names are stably derived from the schema so a reopened
// store finds the same layout. '!' is reserved in schema and composite
// names to keep the derivation collision free.
func (s *Schema) recordCollection() string {
	return s.Name + "!records"
}

func (s *Schema) indexCollection(composite string) string {
	return s.Name + "!idx!" + composite
}
