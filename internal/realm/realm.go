package realm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

// Realm is the user-facing handle on a database. It is safe for concurrent
// use.
type Realm struct {
	cfg      Config
	log      *slog.Logger
	metrics  *Metrics
	tracker  *versionTracker
	writer   *writer
	notifier *notifier
	done     chan struct{} // closed by Close

	// mu guards the published cell. It is held only to compare and swap,
	// never across engine calls.
	mu          sync.Mutex
	closed      bool
	current     *snapshot
	version     core.VersionID
	subscribers map[*subscription]struct{}
}

// Open opens the database at path. The notifier's live realm is opened
// immediately and provides the first published snapshot; the writer's is
// opened on the first write.
func Open(ctx context.Context, path string, opts ...Option) (*Realm, error) {
	cfg := NewConfig(path, opts...)
	log := cfg.Logger.With("realm", cfg.Path, "engine", cfg.Engine.Name())

	r := &Realm{
		cfg:         cfg,
		log:         log,
		metrics:     cfg.Metrics,
		tracker:     newVersionTracker(log, cfg.Metrics),
		done:        make(chan struct{}),
		subscribers: make(map[*subscription]struct{}),
	}
	cfg.Logger = log

	n, snap, err := startNotifier(ctx, cfg, r.tracker, r.publishSnapshot)
	if err != nil {
		return nil, err
	}
	r.notifier = n
	r.writer = newWriter(cfg, r.tracker)
	r.current, r.version = snap, snap.version
	r.metrics.PublishedVersion.Set(float64(snap.version.Version))

	log.Info("realm opened", "version", snap.version)
	return r, nil
}

// Config returns the configuration the Realm was opened with.
func (r *Realm) Config() Config {
	return r.cfg
}

// Schema returns the schema of the published snapshot.
func (r *Realm) Schema() ir.Schema {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return r.cfg.Schema
	}
	return r.current.handle.Schema()
}

// Version returns the version of the published snapshot.
func (r *Realm) Version() (core.VersionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.VersionID{}, ErrClosed
	}
	return r.version, nil
}

// PinnedVersions returns the versions of every snapshot still open,
// oldest first. Long-lived frozen values keep old versions pinned.
func (r *Realm) PinnedVersions() []uint64 {
	return r.tracker.versions()
}

// IsClosed reports whether Close has been called.
func (r *Realm) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// acquire returns the published snapshot with a reference for the caller.
func (r *Realm) acquire() (*snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.current == nil {
		return nil, ErrClosed
	}
	if !r.current.retain() {
		return nil, ErrClosed
	}
	return r.current, nil
}

// publishSnapshot adopts s if its version is not older than the published
// one. The caller keeps its own reference.
func (r *Realm) publishSnapshot(s *snapshot) {
	r.mu.Lock()
	if r.closed || s.version.Compare(r.version) < 0 {
		r.mu.Unlock()
		r.metrics.Publications.WithLabelValues(PublicationDiscarded).Inc()
		r.log.Debug("discarded stale snapshot", "version", s.version)
		return
	}
	if s == r.current || !s.retain() {
		r.mu.Unlock()
		return
	}
	old := r.current
	advanced := s.version.Compare(r.version) > 0
	r.current, r.version = s, s.version
	if advanced {
		// Enqueue never blocks; queuing under mu keeps streams in
		// publication order.
		for sub := range r.subscribers {
			sub.events.Enqueue(RealmChange{Kind: ChangeUpdated, Version: s.version})
		}
	}
	r.mu.Unlock()

	old.release()
	r.metrics.Publications.WithLabelValues(PublicationAdopted).Inc()
	r.metrics.PublishedVersion.Set(float64(s.version.Version))
}

// Write runs fn in a write transaction on the writer goroutine and waits
// for it. Writes from all goroutines run one at a time in submission order.
//
// If fn returns an error or panics, the transaction rolls back and the
// error is returned unchanged (the panic is re-raised). Otherwise the
// transaction commits, the new snapshot is published, and fn's result is
// returned with live *Object, *Results and []*Object values frozen at the
// new snapshot. fn may call CancelWrite to return without committing.
//
// ctx is checked before the transaction begins and again before it
// commits. fn must not call Write or Close on the same Realm.
func (r *Realm) Write(ctx context.Context, fn WriteFunc) (any, error) {
	if r.IsClosed() {
		return nil, ErrClosed
	}
	out := r.writer.write(ctx, fn)
	if out.snap != nil {
		r.publishSnapshot(out.snap)
		out.snap.release()
	}
	if out.panicked {
		panic(out.panicValue)
	}
	return out.value, out.err
}

// WriteResult is Write with a typed result.
func WriteResult[R any](ctx context.Context, r *Realm, fn func(m *MutableRealm) (R, error)) (R, error) {
	var zero R
	v, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
		return fn(m)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	res, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("write result is %T, not %T", v, zero)
	}
	return res, nil
}

// Query returns results for predicate against the published snapshot.
// Args bind $0, $1, ... and may be Go values or ir.Values.
func (r *Realm) Query(class, predicate string, args ...any) (*Results, error) {
	vals, err := queryArgs(args)
	if err != nil {
		return nil, err
	}
	s, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()
	return newFrozenResults(s, class, predicate, vals)
}

// Objects returns every object of class in the published snapshot.
func (r *Realm) Objects(class string) (*Results, error) {
	return r.Query(class, "")
}

// Find returns one object from the published snapshot.
func (r *Realm) Find(class, id string) (*Object, bool, error) {
	s, err := r.acquire()
	if err != nil {
		return nil, false, err
	}
	defer s.release()
	obj, ok, err := s.handle.Find(class, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return frozenObject(s, obj), true, nil
}

// Refresh brings the published snapshot up to the latest committed
// version, including commits made by other Realms and processes, and
// returns the published version.
func (r *Realm) Refresh() (core.VersionID, error) {
	if r.IsClosed() {
		return core.VersionID{}, ErrClosed
	}
	if err := r.notifier.refreshNow(); err != nil {
		return core.VersionID{}, err
	}
	return r.Version()
}

// ObjectChange describes a change to an observed object.
type ObjectChange struct {
	// Object is the frozen object after the change, or its last state if
	// Deleted (then unmanaged).
	Object        *Object
	Deleted       bool
	ChangedFields []string
	Version       core.VersionID
}

// NotificationToken ends an observation.
type NotificationToken struct {
	id  string
	reg core.Registration
}

// ID identifies the registration in logs.
func (t *NotificationToken) ID() string {
	return t.id
}

// Cancel stops future deliveries. It does not affect in-flight commits and
// is safe to call more than once.
func (t *NotificationToken) Cancel() {
	t.reg.Cancel()
}

// Observe calls cb on the notifier goroutine whenever obj changes, and a
// last time when it is deleted. If the latest version already differs from
// obj, cb is called before Observe returns. cb must not block.
func (r *Realm) Observe(obj *Object, cb func(ObjectChange)) (*NotificationToken, error) {
	if r.IsClosed() {
		return nil, ErrClosed
	}
	if !obj.IsManaged() {
		return nil, ErrUnmanagedObject
	}
	reg, err := r.notifier.observe(obj.Object, cb)
	if err != nil {
		return nil, err
	}
	t := &NotificationToken{id: uuid.NewString(), reg: reg}
	r.log.Debug("observing object", "object", obj.String(), "token", t.id)
	return t, nil
}

// Close closes the Realm. New operations fail with ErrClosed at once. A
// write already running finishes and returns its result; writes still
// queued fail with ErrClosed. Then the writer's and notifier's live
// realms close on their own goroutines, followed by every snapshot.
// Calling Close again is a no-op. Close must not be called from a write
// closure.
func (r *Realm) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)

	var g errgroup.Group
	g.Go(r.writer.close)
	g.Go(r.notifier.close)
	err := g.Wait()

	r.mu.Lock()
	cur := r.current
	r.current = nil
	subs := r.subscribers
	r.subscribers = nil
	r.mu.Unlock()

	if cur != nil {
		cur.release()
	}
	for sub := range subs {
		sub.events.Close()
	}
	r.tracker.closeAll()

	if err != nil {
		r.log.Warn("realm closed with error", "error", err)
		return fmt.Errorf("close realm: %w", err)
	}
	r.log.Info("realm closed")
	return nil
}
