package property

import (
	"fmt"
	"sort"
)

// Schema is the ordered list of properties a block type declares.
type Schema struct {
	props []Property
	index map[string]int
}

// NewSchema builds a schema. Duplicate property names are rejected.
func NewSchema(props ...Property) (Schema, error) {
	s := Schema{index: make(map[string]int, len(props))}
	for _, p := range props {
		if p == nil {
			return Schema{}, fmt.Errorf("nil property in schema")
		}
		if _, dup := s.index[p.Name()]; dup {
			return Schema{}, fmt.Errorf("duplicate property %q", p.Name())
		}
		s.index[p.Name()] = len(s.props)
		s.props = append(s.props, p)
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error, for package-level declarations.
func MustSchema(props ...Property) Schema {
	s, err := NewSchema(props...)
	if err != nil {
		panic(err)
	}
	return s
}

// Properties returns the declared properties in declaration order.
func (s Schema) Properties() []Property {
	return append([]Property(nil), s.props...)
}

// Lookup returns the property declared under name.
func (s Schema) Lookup(name string) (Property, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.props[i], true
}

// Populate resolves every declared property from raw, falling back to the
// default when a key is absent or nil. It returns the populated values and
// the raw keys that match no declared property.
func (s Schema) Populate(raw map[string]interface{}) (Values, []string, error) {
	values := Values{values: make(map[string]interface{}, len(s.props))}
	for _, p := range s.props {
		v, ok := raw[p.Name()]
		if !ok || v == nil {
			values.values[p.Name()] = p.Default()
			continue
		}
		coerced, err := p.Coerce(v)
		if err != nil {
			return Values{}, nil, err
		}
		values.values[p.Name()] = coerced
	}

	var unknown []string
	for k := range raw {
		if _, ok := s.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return values, unknown, nil
}

// Description is the serialisable form of a property.
type Description struct {
	Name    string      `json:"name" yaml:"name"`
	Title   string      `json:"title" yaml:"title"`
	Type    Type        `json:"type" yaml:"type"`
	Default interface{} `json:"default" yaml:"default"`
}

// Describe returns a description of every property in declaration order.
func (s Schema) Describe() []Description {
	out := make([]Description, 0, len(s.props))
	for _, p := range s.props {
		out = append(out, Description{Name: p.Name(), Title: p.Title(), Type: p.Type(), Default: p.Default()})
	}
	return out
}
