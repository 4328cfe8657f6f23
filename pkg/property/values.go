package property

// Values holds the populated properties of one block instance.
// Getters return the zero value when the name was never declared.
type Values struct {
	values map[string]interface{}
}

// Raw returns the populated value stored under name.
func (v Values) Raw(name string) (interface{}, bool) {
	val, ok := v.values[name]
	return val, ok
}

func (v Values) String(name string) string {
	s, _ := v.values[name].(string)
	return s
}

func (v Values) Bool(name string) bool {
	b, _ := v.values[name].(bool)
	return b
}

func (v Values) Int(name string) int {
	i, _ := v.values[name].(int)
	return i
}

// Version returns the block's version property.
func (v Values) Version() string {
	return v.String(VersionName)
}

// Map returns a copy of every populated value.
func (v Values) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(v.values))
	for k, val := range v.values {
		out[k] = val
	}
	return out
}
