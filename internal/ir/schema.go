package ir

// Property types accepted in a schema. Floats are deliberately absent.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeBool   = "bool"
	TypeArray  = "array"
	TypeObject = "object"
)

// Schema is the set of classes a realm file stores.
// Classes keep their declaration order.
type Schema struct {
	Classes []Class `json:"classes"`
}

// Class describes one object type.
type Class struct {
	Name       string     `json:"name"`
	PrimaryKey string     `json:"primary_key,omitempty"` // empty: ids are generated
	Properties []Property `json:"properties"`
}

// Property describes one typed field of a class.
type Property struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Class returns the class with the given name.
func (s Schema) Class(name string) (Class, bool) {
	for _, c := range s.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return Class{}, false
}

// ClassNames returns class names in declaration order.
func (s Schema) ClassNames() []string {
	names := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		names[i] = c.Name
	}
	return names
}

// Property returns the property with the given name.
func (c Class) Property(name string) (Property, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
