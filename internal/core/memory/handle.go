package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/query"
)

// liveHandle reads the version it last began, committed or refreshed.
// Inside a transaction it reads and edits txn.
type liveHandle struct {
	db     *database
	id     uint64
	schema ir.Schema

	mu        sync.Mutex
	closed    bool
	view      state
	txn       *objectMap // nil outside a transaction
	evaluated uint64     // version object callbacks were last evaluated at
	changes   []core.Registration

	objects core.ObjectRegistry
}

var _ core.LiveHandle = (*liveHandle)(nil)

func (h *liveHandle) fail(op string, err error) error {
	return core.NewError(engineName, op, err)
}

// readable returns the map reads go to. Caller holds h.mu.
func (h *liveHandle) readable() *objectMap {
	if h.txn != nil {
		return h.txn
	}
	return h.view.objects
}

func (h *liveHandle) Version() (core.VersionID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.VersionID{}, h.fail("version", core.ErrClosed)
	}
	return h.db.versionID(h.view.version), nil
}

func (h *liveHandle) Schema() ir.Schema {
	return h.schema
}

func (h *liveHandle) Find(class, id string) (ir.Object, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ir.Object{}, false, h.fail("find", core.ErrClosed)
	}
	obj, ok := lookup(h.readable(), class, id)
	return obj, ok, nil
}

func (h *liveHandle) ParseQuery(class, predicate string, args ...ir.Value) (core.Query, error) {
	if h.IsClosed() {
		return nil, h.fail("parse query", core.ErrClosed)
	}
	pred, err := core.CompilePredicate(h.schema, class, predicate, args...)
	if err != nil {
		return nil, h.fail("parse query", err)
	}
	return &memQuery{class: class, pred: pred, read: func() (*objectMap, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			return nil, h.fail("query", core.ErrClosed)
		}
		return h.readable(), nil
	}}, nil
}

func (h *liveHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if h.txn != nil {
		h.txn = nil
		h.db.writeMu.Unlock()
	}
	changes := h.changes
	h.changes = nil
	h.mu.Unlock()

	for _, reg := range changes {
		reg.Cancel()
	}
	h.objects.Clear()
	h.db.log.Debug("closed live handle", "engine", engineName, "path", h.db.path, "handle", h.id)
	return nil
}

func (h *liveHandle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *liveHandle) BeginWrite() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail("begin write", core.ErrClosed)
	}
	if h.txn != nil {
		h.mu.Unlock()
		return h.fail("begin write", core.ErrInTransaction)
	}
	h.mu.Unlock()

	// Blocks while another handle on the same database is writing.
	h.db.writeMu.Lock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.db.writeMu.Unlock()
		return h.fail("begin write", core.ErrClosed)
	}
	h.view = h.db.latest()
	h.txn = h.view.objects
	return nil
}

func (h *liveHandle) Commit() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail("commit", core.ErrClosed)
	}
	if h.txn == nil {
		h.mu.Unlock()
		return h.fail("commit", core.ErrNotInTransaction)
	}

	h.view = h.db.publish(h.txn)
	h.txn = nil
	h.db.writeMu.Unlock()

	vid := h.db.versionID(h.view.version)
	view := h.view.objects
	deliveries, err := h.objects.Evaluate(func(class, id string) (ir.Object, bool, error) {
		obj, ok := lookup(view, class, id)
		return obj, ok, nil
	}, vid)
	h.evaluated = h.view.version
	h.mu.Unlock()

	h.db.log.Debug("committed", "engine", engineName, "path", h.db.path, "handle", h.id, "version", vid.Version)
	h.db.listeners.Notify(h.id, vid)
	for _, deliver := range deliveries {
		deliver()
	}
	if err != nil {
		return h.fail("commit", err)
	}
	return nil
}

func (h *liveHandle) Rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.fail("rollback", core.ErrClosed)
	}
	if h.txn == nil {
		return h.fail("rollback", core.ErrNotInTransaction)
	}
	h.txn = nil
	h.db.writeMu.Unlock()
	return nil
}

func (h *liveHandle) InTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txn != nil
}

func (h *liveHandle) Freeze() (core.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, h.fail("freeze", core.ErrClosed)
	}
	if h.txn != nil {
		return nil, h.fail("freeze", core.ErrInTransaction)
	}
	return &frozenHandle{db: h.db, schema: h.schema, st: h.view}, nil
}

func (h *liveHandle) Refresh() (bool, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false, h.fail("refresh", core.ErrClosed)
	}
	if h.txn != nil {
		h.mu.Unlock()
		return false, nil
	}

	latest := h.db.latest()
	h.view = latest
	if latest.version == h.evaluated {
		h.mu.Unlock()
		return false, nil
	}

	vid := h.db.versionID(latest.version)
	deliveries, err := h.objects.Evaluate(func(class, id string) (ir.Object, bool, error) {
		obj, ok := lookup(latest.objects, class, id)
		return obj, ok, nil
	}, vid)
	h.evaluated = latest.version
	h.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
	if err != nil {
		return true, h.fail("refresh", err)
	}
	return true, nil
}

// writable returns the transaction map or an error. Caller holds h.mu.
func (h *liveHandle) writable(op string) (*objectMap, error) {
	if h.closed {
		return nil, h.fail(op, core.ErrClosed)
	}
	if h.txn == nil {
		return nil, h.fail(op, core.ErrNotInTransaction)
	}
	return h.txn, nil
}

func (h *liveHandle) Insert(obj ir.Object, policy core.UpdatePolicy) (ir.Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	txn, err := h.writable("insert")
	if err != nil {
		return ir.Object{}, err
	}
	if err := core.CheckObject(h.schema, obj); err != nil {
		return ir.Object{}, h.fail("insert", err)
	}

	key := obj.Key()
	if _, exists := txn.Get(key); exists && policy == core.UpdatePolicyError {
		return ir.Object{}, h.fail("insert", fmt.Errorf("%w: %s", core.ErrObjectExists, obj))
	}
	stored := obj.Clone()
	if stored.Fields == nil {
		stored.Fields = ir.Map{}
	}
	h.txn = txn.Set(key, stored)
	return stored.Clone(), nil
}

func (h *liveHandle) Delete(class, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	txn, err := h.writable("delete")
	if err != nil {
		return err
	}
	key := ir.ObjectKey(class, id)
	if _, ok := txn.Get(key); !ok {
		return h.fail("delete", fmt.Errorf("%w: %s[%s]", core.ErrNoSuchObject, class, id))
	}
	h.txn = txn.Delete(key)
	return nil
}

func (h *liveHandle) DeleteClass(class string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	txn, err := h.writable("delete class")
	if err != nil {
		return err
	}
	if _, ok := h.schema.Class(class); !ok {
		return h.fail("delete class", fmt.Errorf("%w: %s", core.ErrUnknownClass, class))
	}

	var keys []string
	scan(txn, class, func(obj ir.Object) bool {
		keys = append(keys, obj.Key())
		return true
	})
	for _, key := range keys {
		txn = txn.Delete(key)
	}
	h.txn = txn
	return nil
}

func (h *liveHandle) DeleteAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.writable("delete all"); err != nil {
		return err
	}
	h.txn = emptyObjects()
	return nil
}

func (h *liveHandle) AddObjectCallback(class, id string, cb core.ObjectCallback) (core.Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, h.fail("add object callback", core.ErrClosed)
	}
	obj, ok := lookup(h.readable(), class, id)
	if !ok {
		return nil, h.fail("add object callback", fmt.Errorf("%w: %s[%s]", core.ErrNoSuchObject, class, id))
	}
	reg, err := h.objects.Add(obj, cb)
	if err != nil {
		return nil, h.fail("add object callback", err)
	}
	return reg, nil
}

func (h *liveHandle) AddChangeCallback(cb core.ChangeCallback) core.Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return core.RegistrationFunc(func() {})
	}
	reg := h.db.listeners.Add(h.id, cb)
	h.changes = append(h.changes, reg)
	return reg
}

type frozenHandle struct {
	db     *database
	schema ir.Schema
	st     state
	closed atomic.Bool
}

var _ core.Handle = (*frozenHandle)(nil)

func (f *frozenHandle) objects(op string) (*objectMap, error) {
	if f.closed.Load() {
		return nil, core.NewError(engineName, op, core.ErrClosed)
	}
	return f.st.objects, nil
}

func (f *frozenHandle) Version() (core.VersionID, error) {
	if f.closed.Load() {
		return core.VersionID{}, core.NewError(engineName, "version", core.ErrClosed)
	}
	return f.db.versionID(f.st.version), nil
}

func (f *frozenHandle) Schema() ir.Schema {
	return f.schema
}

func (f *frozenHandle) Find(class, id string) (ir.Object, bool, error) {
	m, err := f.objects("find")
	if err != nil {
		return ir.Object{}, false, err
	}
	obj, ok := lookup(m, class, id)
	return obj, ok, nil
}

func (f *frozenHandle) ParseQuery(class, predicate string, args ...ir.Value) (core.Query, error) {
	if _, err := f.objects("parse query"); err != nil {
		return nil, err
	}
	pred, err := core.CompilePredicate(f.schema, class, predicate, args...)
	if err != nil {
		return nil, core.NewError(engineName, "parse query", err)
	}
	return &memQuery{class: class, pred: pred, read: func() (*objectMap, error) {
		return f.objects("query")
	}}, nil
}

func (f *frozenHandle) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *frozenHandle) IsClosed() bool {
	return f.closed.Load()
}

type memQuery struct {
	class string
	pred  query.Predicate
	read  func() (*objectMap, error)
}

func (q *memQuery) Class() string {
	return q.class
}

func (q *memQuery) Predicate() query.Predicate {
	return q.pred
}

func (q *memQuery) Find() ([]ir.Object, error) {
	m, err := q.read()
	if err != nil {
		return nil, err
	}
	var out []ir.Object
	scan(m, q.class, func(obj ir.Object) bool {
		if query.Match(q.pred, obj) {
			out = append(out, obj.Clone())
		}
		return true
	})
	return out, nil
}

func (q *memQuery) Count() (int, error) {
	m, err := q.read()
	if err != nil {
		return 0, err
	}
	n := 0
	scan(m, q.class, func(obj ir.Object) bool {
		if query.Match(q.pred, obj) {
			n++
		}
		return true
	})
	return n, nil
}
