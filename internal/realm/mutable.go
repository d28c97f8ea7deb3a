package realm

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/schema"
)

// UpdatePolicy controls CopyToRealm when an object with the same id exists.
type UpdatePolicy = core.UpdatePolicy

const (
	// UpdatePolicyError fails the copy.
	UpdatePolicyError = core.UpdatePolicyError
	// UpdatePolicyAll overwrites every field of the existing object.
	UpdatePolicyAll = core.UpdatePolicyAll
)

// MutableRealm is the write closure's view of the database. Every call goes
// straight to the writer's live handle; a change is visible to the next
// call in the same closure.
//
// A MutableRealm and the live objects and results it returns are valid
// only until the closure returns. Later calls fail with ErrTransactionScope.
type MutableRealm struct {
	handle core.LiveHandle
	schema ir.Schema
	ids    IDGenerator
	active atomic.Bool
}

func newMutableRealm(h core.LiveHandle, ids IDGenerator) *MutableRealm {
	m := &MutableRealm{handle: h, schema: h.Schema(), ids: ids}
	m.active.Store(true)
	return m
}

func (m *MutableRealm) check() error {
	if !m.active.Load() {
		return ErrTransactionScope
	}
	return nil
}

// Schema returns the schema of the database.
func (m *MutableRealm) Schema() ir.Schema {
	return m.schema
}

// Version returns the version the transaction started from.
func (m *MutableRealm) Version() (core.VersionID, error) {
	if err := m.check(); err != nil {
		return core.VersionID{}, err
	}
	return m.handle.Version()
}

// CopyToRealm stores an unmanaged object and returns its live copy. The id
// is taken from obj.ID, else from the class's primary key; classes without
// a primary key get a generated id.
func (m *MutableRealm) CopyToRealm(obj *Object, policy UpdatePolicy) (*Object, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("copy to realm: nil object")
	}

	stored := obj.Object.Clone()
	stored.ID = schema.ResolveID(m.schema, stored)
	if stored.ID == "" {
		if c, ok := m.schema.Class(stored.Class); ok && c.PrimaryKey == "" {
			stored.ID = m.ids.Generate()
		}
	}

	out, err := m.handle.Insert(stored, policy)
	if err != nil {
		return nil, fmt.Errorf("copy %s to realm: %w", stored.Class, err)
	}
	return liveObject(m, out), nil
}

// FindLatest returns the live version of obj as of this transaction.
func (m *MutableRealm) FindLatest(obj *Object) (*Object, bool, error) {
	if err := m.check(); err != nil {
		return nil, false, err
	}
	if !obj.IsManaged() {
		return nil, false, fmt.Errorf("find latest: %w", ErrUnmanagedObject)
	}
	return m.Find(obj.Class, obj.ID)
}

// Find returns the live object with the given id.
func (m *MutableRealm) Find(class, id string) (*Object, bool, error) {
	if err := m.check(); err != nil {
		return nil, false, err
	}
	found, ok, err := m.handle.Find(class, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return liveObject(m, found), true, nil
}

// Delete removes a managed object. A frozen object deletes the object with
// the same id.
func (m *MutableRealm) Delete(obj *Object) error {
	if err := m.check(); err != nil {
		return err
	}
	if !obj.IsManaged() {
		return fmt.Errorf("delete: %w", ErrUnmanagedObject)
	}
	if err := m.handle.Delete(obj.Class, obj.ID); err != nil {
		return fmt.Errorf("delete %s: %w", obj, err)
	}
	return nil
}

// DeleteClass removes every object of class.
func (m *MutableRealm) DeleteClass(class string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.handle.DeleteClass(class)
}

// DeleteAll removes every object.
func (m *MutableRealm) DeleteAll() error {
	if err := m.check(); err != nil {
		return err
	}
	return m.handle.DeleteAll()
}

// Query returns live results for predicate. Args bind $0, $1, ...
func (m *MutableRealm) Query(class, predicate string, args ...any) (*Results, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	vals, err := queryArgs(args)
	if err != nil {
		return nil, err
	}
	q, err := m.handle.ParseQuery(class, predicate, vals...)
	if err != nil {
		return nil, err
	}
	return &Results{class: class, predicate: predicate, args: vals, query: q, txn: m}, nil
}

// Objects returns live results for every object of class.
func (m *MutableRealm) Objects(class string) (*Results, error) {
	return m.Query(class, "")
}

// CancelWrite rolls the transaction back. The closure may keep reading;
// Write then returns without committing.
func (m *MutableRealm) CancelWrite() error {
	if err := m.check(); err != nil {
		return err
	}
	return m.handle.Rollback()
}

// InTransaction reports whether the transaction is still open.
func (m *MutableRealm) InTransaction() bool {
	return m.active.Load() && m.handle.InTransaction()
}

func queryArgs(args []any) ([]ir.Value, error) {
	vals := make([]ir.Value, len(args))
	for i, a := range args {
		v, err := ir.FromGo(a)
		if err != nil {
			return nil, fmt.Errorf("query argument $%d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}
