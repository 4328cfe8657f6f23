// Package property declares the typed configuration a block exposes to its
// host. A block lists its properties in a Schema; the host populates the
// schema from raw configuration before the block's Configure hook runs.
package property

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fluxorio/blockflow/pkg/core"
	"golang.org/x/mod/semver"
)

// Type names the value kind of a property.
type Type string

const (
	TypeString  Type = "string"
	TypeBool    Type = "bool"
	TypeInt     Type = "int"
	TypeVersion Type = "version"
)

// Property is a single declared configuration value.
type Property interface {
	Name() string
	Title() string
	Type() Type
	Default() interface{}
	// Coerce converts a raw configuration value to the property's Go type.
	Coerce(raw interface{}) (interface{}, error)
}

type base struct {
	name  string
	title string
	typ   Type
	def   interface{}
}

func (b base) Name() string         { return b.name }
func (b base) Title() string        { return b.title }
func (b base) Type() Type           { return b.typ }
func (b base) Default() interface{} { return b.def }

func (b base) invalid(raw interface{}, reason string) error {
	return &core.EventBusError{
		Code:    core.ErrInvalidProperty.Code,
		Message: fmt.Sprintf("property %q: %v (%T) %s", b.name, raw, raw, reason),
	}
}

type stringProperty struct{ base }

// String declares a string property.
func String(name, title, def string) Property {
	return stringProperty{base{name: name, title: title, typ: TypeString, def: def}}
}

func (p stringProperty) Coerce(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return nil, p.invalid(raw, "is not a string")
}

type boolProperty struct{ base }

// Bool declares a boolean property.
func Bool(name, title string, def bool) Property {
	return boolProperty{base{name: name, title: title, typ: TypeBool, def: def}}
}

func (p boolProperty) Coerce(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return nil, p.invalid(raw, "is not a boolean")
}

type intProperty struct{ base }

// Int declares an integer property.
func Int(name, title string, def int) Property {
	return intProperty{base{name: name, title: title, typ: TypeInt, def: def}}
}

func (p intProperty) Coerce(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float32:
		return p.fromFloat(raw, float64(v))
	case float64:
		// JSON and YAML decoders hand numbers over as float64.
		return p.fromFloat(raw, v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, p.invalid(raw, "is not an integer")
		}
		return n, nil
	}
	return nil, p.invalid(raw, "is not an integer")
}

func (p intProperty) fromFloat(raw interface{}, f float64) (interface{}, error) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, p.invalid(raw, "is not an integer")
	}
	return int(f), nil
}

type versionProperty struct{ base }

// VersionName is the name every block uses for its version property.
const VersionName = "version"

// Version declares the block's semantic version property. The default must
// be a valid semantic version.
func Version(def string) Property {
	v, ok := canonical(def)
	if !ok {
		core.FailFast(fmt.Errorf("default version %q is not a semantic version", def))
	}
	return versionProperty{base{name: VersionName, title: "Version", typ: TypeVersion, def: v}}
}

func (p versionProperty) Coerce(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, p.invalid(raw, "is not a version string")
	}
	v, ok := canonical(s)
	if !ok {
		return nil, p.invalid(raw, "is not a semantic version")
	}
	return v, nil
}

// canonical validates s as a semantic version and returns it without the
// leading "v".
func canonical(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	if !semver.IsValid(s) {
		return "", false
	}
	return strings.TrimPrefix(s, "v"), true
}

// CompareVersions compares two semantic versions and returns -1, 0 or +1.
// Versions may be written with or without a leading "v".
func CompareVersions(a, b string) (int, error) {
	ca, ok := canonical(a)
	if !ok {
		return 0, fmt.Errorf("%q is not a semantic version", a)
	}
	cb, ok := canonical(b)
	if !ok {
		return 0, fmt.Errorf("%q is not a semantic version", b)
	}
	return semver.Compare("v"+ca, "v"+cb), nil
}
