package core

import (
	"sort"
	"sync"

	"github.com/roach88/realm/internal/ir"
)

// ObjectRegistry tracks object callbacks for one live handle. It remembers
// the last state delivered for each registration so it can report which
// fields changed, independent of which versions the handle skipped.
type ObjectRegistry struct {
	mu   sync.Mutex
	next uint64
	regs map[uint64]*objectReg
}

type objectReg struct {
	class string
	id    string
	last  ir.Object
	hash  string
	cb    ObjectCallback
}

// Add registers cb for obj, which is the object's current state.
func (r *ObjectRegistry) Add(obj ir.Object, cb ObjectCallback) (Registration, error) {
	hash, err := ir.ObjectHash(obj)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.regs == nil {
		r.regs = make(map[uint64]*objectReg)
	}
	r.next++
	id := r.next
	r.regs[id] = &objectReg{class: obj.Class, id: obj.ID, last: obj.Clone(), hash: hash, cb: cb}

	var once sync.Once
	return RegistrationFunc(func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.regs, id)
			r.mu.Unlock()
		})
	}), nil
}

// Len returns the number of active registrations.
func (r *ObjectRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// Clear drops every registration.
func (r *ObjectRegistry) Clear() {
	r.mu.Lock()
	r.regs = nil
	r.mu.Unlock()
}

// Evaluate compares every registered object against find, which reads the
// handle's new state, and returns the deliveries to make in registration
// order. Deleted objects are unregistered. Callers invoke the returned
// functions after releasing their own locks.
func (r *ObjectRegistry) Evaluate(find func(class, id string) (ir.Object, bool, error), version VersionID) ([]func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uint64, 0, len(r.regs))
	for id := range r.regs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var deliveries []func()
	for _, id := range ids {
		reg := r.regs[id]
		obj, ok, err := find(reg.class, reg.id)
		if err != nil {
			return nil, err
		}

		if !ok {
			delete(r.regs, id)
			change := ObjectChange{Object: reg.last, Deleted: true, Version: version}
			cb := reg.cb
			deliveries = append(deliveries, func() { cb(change) })
			continue
		}

		hash, err := ir.ObjectHash(obj)
		if err != nil {
			return nil, err
		}
		if hash == reg.hash {
			continue
		}
		change := ObjectChange{
			Object:        obj.Clone(),
			ChangedFields: ir.ChangedFields(reg.last.Fields, obj.Fields),
			Version:       version,
		}
		reg.last, reg.hash = obj.Clone(), hash
		cb := reg.cb
		deliveries = append(deliveries, func() { cb(change) })
	}
	return deliveries, nil
}

// ChangeListeners fans commit notifications out to change callbacks.
type ChangeListeners struct {
	mu   sync.Mutex
	next uint64
	cbs  map[uint64]listener
}

type listener struct {
	owner uint64
	cb    ChangeCallback
}

// Add registers cb on behalf of the handle identified by owner. Owners do
// not receive notifications for their own commits.
func (l *ChangeListeners) Add(owner uint64, cb ChangeCallback) Registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cbs == nil {
		l.cbs = make(map[uint64]listener)
	}
	l.next++
	id := l.next
	l.cbs[id] = listener{owner: owner, cb: cb}

	var once sync.Once
	return RegistrationFunc(func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.cbs, id)
			l.mu.Unlock()
		})
	})
}

// Len returns the number of registered listeners.
func (l *ChangeListeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cbs)
}

// Notify calls every listener not owned by committer. Zero notifies all.
func (l *ChangeListeners) Notify(committer uint64, version VersionID) {
	l.mu.Lock()
	targets := make([]ChangeCallback, 0, len(l.cbs))
	for _, ln := range l.cbs {
		if committer != 0 && ln.owner == committer {
			continue
		}
		targets = append(targets, ln.cb)
	}
	l.mu.Unlock()

	for _, cb := range targets {
		cb(version)
	}
}
