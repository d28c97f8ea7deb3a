package ir

import (
	"encoding/json"
	"fmt"
)

// Object is the engine-level representation of one database object: its
// class, its primary key and its property values.
//
// Objects cross goroutines by value. Engines clone Fields before handing an
// object out so callers may mutate the returned map freely.
type Object struct {
	Class  string `json:"class"`
	ID     string `json:"id"`
	Fields Map    `json:"fields"`
}

// Key returns the storage key for the object: class and id joined by a NUL
// byte, which sorts all objects of a class contiguously.
func (o Object) Key() string {
	return ObjectKey(o.Class, o.ID)
}

// ObjectKey builds the storage key for (class, id).
func ObjectKey(class, id string) string {
	return class + "\x00" + id
}

// ClassPrefix returns the key prefix shared by every object of class.
func ClassPrefix(class string) string {
	return class + "\x00"
}

// Get returns a field value, or Null if the field is unset.
func (o Object) Get(field string) Value {
	if v, ok := o.Fields[field]; ok && v != nil {
		return v
	}
	return Null{}
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	return Object{Class: o.Class, ID: o.ID, Fields: o.Fields.Clone()}
}

// String implements fmt.Stringer.
func (o Object) String() string {
	return fmt.Sprintf("%s[%s]", o.Class, o.ID)
}

// MarshalFields returns the canonical JSON of the object's fields. This is
// the representation persisted by the SQLite engine.
func (o Object) MarshalFields() ([]byte, error) {
	fields := o.Fields
	if fields == nil {
		fields = Map{}
	}
	b, err := MarshalCanonical(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields of %s: %w", o, err)
	}
	return b, nil
}

// UnmarshalFields decodes canonical field JSON produced by MarshalFields.
func UnmarshalFields(data []byte) (Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return m, nil
}

// ChangedFields returns the names of the fields whose values differ between
// before and after, in canonical key order.
func ChangedFields(before, after Map) []string {
	union := make(Map, len(before)+len(after))
	for k := range before {
		union[k] = Null{}
	}
	for k := range after {
		union[k] = Null{}
	}

	var changed []string
	for _, k := range union.SortedKeys() {
		if !Equal(before[k], after[k]) {
			changed = append(changed, k)
		}
	}
	return changed
}
