package realm

import (
	"fmt"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

// Object is a database object as seen by callers.
//
// An Object is in one of three states:
//   - unmanaged: built with NewObject, not stored anywhere;
//   - live: returned by a MutableRealm, valid only inside its write closure;
//   - frozen: read from a snapshot, immutable and safe on any goroutine.
type Object struct {
	ir.Object

	snap *snapshot     // frozen owner
	txn  *MutableRealm // live owner
}

// NewObject returns an unmanaged object to pass to CopyToRealm.
func NewObject(class string, fields ir.Map) *Object {
	return &Object{Object: ir.Object{Class: class, Fields: fields}}
}

func frozenObject(s *snapshot, obj ir.Object) *Object {
	o := &Object{Object: obj, snap: s}
	bind(s, o)
	return o
}

func liveObject(m *MutableRealm, obj ir.Object) *Object {
	return &Object{Object: obj, txn: m}
}

// IsManaged reports whether the object belongs to a database.
func (o *Object) IsManaged() bool {
	return o != nil && (o.snap != nil || o.txn != nil)
}

// IsFrozen reports whether the object was read from a snapshot.
func (o *Object) IsFrozen() bool {
	return o != nil && o.snap != nil
}

// IsValid reports whether a managed object can still be read: its write
// transaction is open, or its snapshot has not been closed.
func (o *Object) IsValid() bool {
	switch {
	case o == nil:
		return false
	case o.snap != nil:
		return !o.snap.handle.IsClosed()
	case o.txn != nil:
		return o.txn.active.Load()
	}
	return false
}

// Version returns the version of the snapshot a frozen object was read
// from.
func (o *Object) Version() (core.VersionID, bool) {
	if !o.IsFrozen() {
		return core.VersionID{}, false
	}
	return o.snap.version, true
}

// Results is a query bound to a snapshot (frozen) or to a write
// transaction (live). It evaluates on every Find or Count call.
type Results struct {
	class     string
	predicate string
	args      []ir.Value
	query     core.Query

	snap *snapshot
	txn  *MutableRealm
}

func newFrozenResults(s *snapshot, class, predicate string, args []ir.Value) (*Results, error) {
	q, err := s.handle.ParseQuery(class, predicate, args...)
	if err != nil {
		return nil, err
	}
	r := &Results{class: class, predicate: predicate, args: args, query: q, snap: s}
	bind(s, r)
	return r, nil
}

// Class returns the queried class.
func (r *Results) Class() string {
	return r.class
}

// Predicate returns the normalized predicate.
func (r *Results) Predicate() string {
	return r.query.Predicate().String()
}

// IsFrozen reports whether the results read from a snapshot.
func (r *Results) IsFrozen() bool {
	return r.snap != nil
}

// IsManaged reports whether the results belong to a database. Always true.
func (r *Results) IsManaged() bool {
	return true
}

// Version returns the snapshot version of frozen results.
func (r *Results) Version() (core.VersionID, bool) {
	if r.snap == nil {
		return core.VersionID{}, false
	}
	return r.snap.version, true
}

func (r *Results) check() error {
	if r.txn != nil && !r.txn.active.Load() {
		return ErrTransactionScope
	}
	return nil
}

func (r *Results) wrap(obj ir.Object) *Object {
	if r.snap != nil {
		return frozenObject(r.snap, obj)
	}
	return liveObject(r.txn, obj)
}

// Find returns the matching objects ordered by id.
func (r *Results) Find() ([]*Object, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	objs, err := r.query.Find()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.class, err)
	}
	out := make([]*Object, len(objs))
	for i, obj := range objs {
		out[i] = r.wrap(obj)
	}
	return out, nil
}

// Count returns the number of matching objects.
func (r *Results) Count() (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	n, err := r.query.Count()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.class, err)
	}
	return n, nil
}

// First returns the matching object with the lowest id.
func (r *Results) First() (*Object, bool, error) {
	objs, err := r.Find()
	if err != nil || len(objs) == 0 {
		return nil, false, err
	}
	return objs[0], true, nil
}
