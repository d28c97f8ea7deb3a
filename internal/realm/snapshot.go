package realm

import (
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/realm/internal/core"
)

// snapshot is a reference-counted frozen handle. The published cell, the
// live realm that froze it and every frozen Object or Results built on it
// hold one reference each; the handle closes when the last one goes.
type snapshot struct {
	handle  core.Handle
	version core.VersionID
	refs    atomic.Int64
	tracker *versionTracker
}

// retain adds a reference. Returns false if the snapshot is already
// released.
func (s *snapshot) retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference and closes the handle with the last one.
func (s *snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	s.tracker.remove(s)
	if err := s.handle.Close(); err != nil {
		s.tracker.log.Warn("close snapshot", "version", s.version, "error", err)
	}
}

// bind makes owner hold a reference to s until owner is garbage collected.
func bind[T any](s *snapshot, owner *T) {
	if !s.retain() {
		return
	}
	runtime.AddCleanup(owner, func(s *snapshot) { s.release() }, s)
}

// versionTracker records every snapshot that is still open, so Close can
// release the ones callers still hold and metrics can report them.
type versionTracker struct {
	log     *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	open map[*snapshot]struct{}
}

func newVersionTracker(log *slog.Logger, metrics *Metrics) *versionTracker {
	return &versionTracker{
		log:     log,
		metrics: metrics,
		open:    make(map[*snapshot]struct{}),
	}
}

// track wraps a frozen handle in a snapshot holding one reference.
func (t *versionTracker) track(h core.Handle) (*snapshot, error) {
	v, err := h.Version()
	if err != nil {
		return nil, err
	}
	s := &snapshot{handle: h, version: v, tracker: t}
	s.refs.Store(1)

	t.mu.Lock()
	t.open[s] = struct{}{}
	n := len(t.open)
	t.mu.Unlock()
	t.metrics.OpenSnapshots.Set(float64(n))
	return s, nil
}

func (t *versionTracker) remove(s *snapshot) {
	t.mu.Lock()
	delete(t.open, s)
	n := len(t.open)
	t.mu.Unlock()
	t.metrics.OpenSnapshots.Set(float64(n))
}

// Len returns the number of open snapshots.
func (t *versionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// versions returns the versions of the open snapshots in ascending order.
func (t *versionTracker) versions() []uint64 {
	t.mu.Lock()
	out := make([]uint64, 0, len(t.open))
	for s := range t.open {
		out = append(out, s.version.Version)
	}
	t.mu.Unlock()
	slices.Sort(out)
	return out
}

// closeAll closes every open snapshot regardless of references. Values
// still holding one fail with a closed error from then on.
func (t *versionTracker) closeAll() {
	t.mu.Lock()
	open := t.open
	t.open = make(map[*snapshot]struct{})
	t.mu.Unlock()

	for s := range open {
		s.refs.Store(0)
		if err := s.handle.Close(); err != nil {
			t.log.Warn("close snapshot", "version", s.version, "error", err)
		}
	}
	if len(open) > 0 {
		t.log.Debug("closed leftover snapshots", "count", len(open))
	}
	t.metrics.OpenSnapshots.Set(0)
}
