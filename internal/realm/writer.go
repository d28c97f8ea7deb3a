package realm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/realm/internal/core"
)

// WriteFunc is a write closure. Returning an error rolls the transaction
// back.
type WriteFunc func(m *MutableRealm) (any, error)

// writeOutcome is what a write sends back from the writer goroutine.
type writeOutcome struct {
	snap  *snapshot // retained; nil when there is nothing to publish
	value any
	err   error

	panicked   bool
	panicValue any
}

// writer serializes write transactions on one goroutine that owns the only
// live handle allowed to mutate the database.
type writer struct {
	cfg     Config
	tracker *versionTracker
	log     *slog.Logger
	metrics *Metrics
	worker  *worker

	live *liveRealm // writer goroutine only; opened on first write
}

func newWriter(cfg Config, tracker *versionTracker) *writer {
	log := cfg.Logger.With("component", "writer")
	return &writer{
		cfg:     cfg,
		tracker: tracker,
		log:     log,
		metrics: cfg.Metrics,
		worker:  startWorker("writer", log),
	}
}

// write runs fn in a transaction on the writer goroutine and waits for it.
// Writes run in submission order. A caller whose ctx ends while its write
// is still queued returns ctx.Err() without waiting; the write is skipped.
func (w *writer) write(ctx context.Context, fn WriteFunc) writeOutcome {
	start := time.Now()
	var out writeOutcome
	if err := w.worker.doContext(ctx, func() { out = w.run(ctx, fn) }); err != nil {
		return writeOutcome{err: err}
	}
	w.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	return out
}

// run is the transaction lifecycle: begin, fn, commit or roll back, freeze.
// Called only on the writer goroutine.
func (w *writer) run(ctx context.Context, fn WriteFunc) (out writeOutcome) {
	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	if w.live == nil {
		live, err := openLiveRealm(ctx, w.cfg, w.tracker, "writer")
		if err != nil {
			w.metrics.Writes.WithLabelValues(OutcomeFailed).Inc()
			out.err = err
			return out
		}
		w.live = live
	}
	h, err := w.live.live()
	if err != nil {
		out.err = err
		return out
	}

	if err := h.BeginWrite(); err != nil {
		w.metrics.Writes.WithLabelValues(OutcomeFailed).Inc()
		out.err = fmt.Errorf("begin write: %w", err)
		return out
	}

	m := newMutableRealm(h, w.cfg.IDs)
	value, panicked, panicValue, fnErr := invoke(fn, m)
	m.active.Store(false)

	switch {
	case panicked:
		if err := w.rollback(h); err != nil {
			w.log.Error("rollback after panic failed", "error", err)
		}
		out.panicked, out.panicValue = true, panicValue
		return out
	case fnErr != nil:
		out.err = joinRollback(fnErr, w.rollback(h))
		return out
	}
	if err := ctx.Err(); err != nil {
		out.err = joinRollback(err, w.rollback(h))
		return out
	}

	if h.InTransaction() {
		if err := h.Commit(); err != nil {
			var rbErr error
			if h.InTransaction() {
				if rbErr = h.Rollback(); rbErr != nil {
					w.log.Warn("rollback after failed commit failed", "error", rbErr)
					rbErr = fmt.Errorf("rollback: %w", rbErr)
				}
			}
			w.metrics.Writes.WithLabelValues(OutcomeFailed).Inc()
			out.err = joinRollback(fmt.Errorf("commit: %w", err), rbErr)
			return out
		}
		w.metrics.Writes.WithLabelValues(OutcomeCommitted).Inc()
	} else {
		w.metrics.Writes.WithLabelValues(OutcomeRolledBack).Inc()
	}

	snap, err := w.live.snapshot()
	if err != nil {
		out.value = value
		out.err = err
		return out
	}
	out.snap = snap
	w.log.Debug("write finished", "version", snap.version)

	out.value, out.err = freezeResult(snap, m, value)
	return out
}

// rollback rolls back an open transaction and records the outcome.
func (w *writer) rollback(h core.LiveHandle) error {
	w.metrics.Writes.WithLabelValues(OutcomeRolledBack).Inc()
	if !h.InTransaction() {
		return nil
	}
	if err := h.Rollback(); err != nil {
		w.log.Warn("rollback failed", "error", err)
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// close stops the writer. A running write finishes; queued writes fail
// with ErrClosed. The live realm closes on the writer goroutine.
func (w *writer) close() error {
	var err error
	w.worker.stop(func() {
		if w.live != nil {
			err = w.live.close()
		}
	})
	return err
}

// invoke calls fn, turning a panic into a return value so the transaction
// can be rolled back before the panic is re-raised on the caller.
func invoke(fn WriteFunc, m *MutableRealm) (value any, panicked bool, panicValue any, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked, panicValue = true, r
		}
	}()
	value, err = fn(m)
	return value, false, nil, err
}

func joinRollback(err, rbErr error) error {
	if rbErr == nil {
		return err
	}
	return errors.Join(err, rbErr)
}

// Managed is implemented by values tied to a database. Write freezes the
// managed values it knows; any other managed value is an error.
type Managed interface {
	IsManaged() bool
}

// freezeResult converts a value returned from a write closure into its
// frozen equivalent at snap.
func freezeResult(snap *snapshot, m *MutableRealm, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Object:
		return freezeObject(snap, m, v)
	case *Results:
		if v == nil || v.txn != m {
			return v, nil
		}
		r, err := newFrozenResults(snap, v.class, v.predicate, v.args)
		if err != nil {
			return nil, fmt.Errorf("freeze results: %w", err)
		}
		return r, nil
	case []*Object:
		out := make([]*Object, len(v))
		for i, o := range v {
			frozen, err := freezeObject(snap, m, o)
			if err != nil {
				return nil, err
			}
			out[i] = frozen
		}
		return out, nil
	case Object:
		// A frozen copy would not hold a snapshot reference of its own.
		if v.txn != nil {
			return nil, fmt.Errorf("%w: live %T returned by value", ErrUnrecognizedFreeze, value)
		}
	case Results:
		if v.txn != nil {
			return nil, fmt.Errorf("%w: live %T returned by value", ErrUnrecognizedFreeze, value)
		}
	case Managed:
		if v.IsManaged() {
			return nil, fmt.Errorf("%w: %T", ErrUnrecognizedFreeze, value)
		}
	}
	return value, nil
}

// freezeObject re-reads a live object from snap. Objects that are not live
// in m, or no longer exist, are returned as is.
func freezeObject(snap *snapshot, m *MutableRealm, o *Object) (*Object, error) {
	if o == nil || o.txn != m {
		return o, nil
	}
	obj, ok, err := snap.handle.Find(o.Class, o.ID)
	if err != nil {
		return nil, fmt.Errorf("freeze %s: %w", o, err)
	}
	if !ok {
		return o, nil
	}
	return frozenObject(snap, obj), nil
}
