package realm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

// notifier follows commits on its own live handle. It publishes the
// snapshots it reaches and evaluates object observers, so neither competes
// with write latency on the writer's handle.
type notifier struct {
	cfg     Config
	tracker *versionTracker
	log     *slog.Logger
	metrics *Metrics
	worker  *worker
	publish func(*snapshot)

	pending atomic.Bool // a refresh task is queued

	// notifier goroutine only
	live      *liveRealm
	changeReg core.Registration
}

// startNotifier opens the notifier's live realm and returns its first
// snapshot, retained for the caller.
func startNotifier(ctx context.Context, cfg Config, tracker *versionTracker, publish func(*snapshot)) (*notifier, *snapshot, error) {
	log := cfg.Logger.With("component", "notifier")
	n := &notifier{
		cfg:     cfg,
		tracker: tracker,
		log:     log,
		metrics: cfg.Metrics,
		worker:  startWorker("notifier", log),
		publish: publish,
	}

	var (
		snap *snapshot
		err  error
	)
	if doErr := n.worker.do(func() { snap, err = n.open(ctx) }); doErr != nil {
		err = doErr
	}
	if err != nil {
		n.close()
		return nil, nil, err
	}
	return n, snap, nil
}

func (n *notifier) open(ctx context.Context) (*snapshot, error) {
	live, err := openLiveRealm(ctx, n.cfg, n.tracker, "notifier")
	if err != nil {
		return nil, err
	}
	n.live = live
	n.changeReg = live.handle.AddChangeCallback(n.onChange)
	return live.snapshot()
}

// onChange runs on an engine goroutine. Bursts of commits collapse into one
// queued refresh.
func (n *notifier) onChange(core.VersionID) {
	if !n.pending.CompareAndSwap(false, true) {
		return
	}
	if !n.worker.submit(task{run: n.backgroundRefresh}) {
		n.pending.Store(false)
	}
}

// backgroundRefresh is the refresh queued by onChange. Nobody waits for it,
// so a failure is logged and the next commit retries.
func (n *notifier) backgroundRefresh() {
	if err := n.refresh(); err != nil {
		n.log.Warn("refresh failed", "error", err)
	}
}

// refresh advances the live realm to the latest version, which delivers
// object callbacks, and publishes the resulting snapshot.
func (n *notifier) refresh() error {
	n.pending.Store(false)
	if n.live == nil || n.live.isClosed() {
		return ErrClosed
	}
	if _, err := n.live.handle.Refresh(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	snap, err := n.live.snapshot()
	if err != nil {
		return fmt.Errorf("refresh snapshot: %w", err)
	}
	n.publish(snap)
	snap.release()
	return nil
}

// refreshNow runs a refresh on the notifier goroutine and waits for it.
func (n *notifier) refreshNow() error {
	var err error
	if doErr := n.worker.do(func() { err = n.refresh() }); doErr != nil {
		return doErr
	}
	return err
}

// observe registers cb for changes to obj. The notifier first catches up
// so the object is looked up at the latest version; if that state differs
// from obj, cb gets the difference at once. An object deleted since obj
// was read gets a single deletion event.
func (n *notifier) observe(obj ir.Object, cb func(ObjectChange)) (core.Registration, error) {
	var (
		reg core.Registration
		err error
	)
	doErr := n.worker.do(func() {
		if err = n.refresh(); err != nil {
			return
		}
		h, liveErr := n.live.live()
		if liveErr != nil {
			err = liveErr
			return
		}
		reg, err = n.register(h, obj, cb)
	})
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w", obj, err)
	}
	return reg, nil
}

// register runs on the notifier goroutine.
func (n *notifier) register(h core.LiveHandle, obj ir.Object, cb func(ObjectChange)) (core.Registration, error) {
	version, err := h.Version()
	if err != nil {
		return nil, err
	}
	current, ok, err := h.Find(obj.Class, obj.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		n.deliver(core.ObjectChange{Object: obj, Deleted: true, Version: version}, cb)
		return core.RegistrationFunc(func() {}), nil
	}

	reg, err := h.AddObjectCallback(obj.Class, obj.ID, func(c core.ObjectChange) {
		n.deliver(c, cb)
	})
	if err != nil {
		return nil, err
	}
	if changed := ir.ChangedFields(obj.Fields, current.Fields); len(changed) > 0 {
		n.deliver(core.ObjectChange{Object: current, ChangedFields: changed, Version: version}, cb)
	}
	return reg, nil
}

// deliver adapts an engine object change. Runs on the notifier goroutine
// during Refresh.
func (n *notifier) deliver(c core.ObjectChange, cb func(ObjectChange)) {
	change := ObjectChange{
		Deleted:       c.Deleted,
		ChangedFields: c.ChangedFields,
		Version:       c.Version,
	}
	if c.Deleted {
		change.Object = &Object{Object: c.Object}
	} else if snap, err := n.live.snapshot(); err == nil {
		change.Object = frozenObject(snap, c.Object)
		snap.release()
	} else {
		n.log.Warn("snapshot for notification failed", "error", err)
		change.Object = &Object{Object: c.Object}
	}
	n.metrics.Notifications.Inc()
	cb(change)
}

// close stops the notifier and closes its live realm on its goroutine.
func (n *notifier) close() error {
	var err error
	n.worker.stop(func() {
		if n.changeReg != nil {
			n.changeReg.Cancel()
		}
		if n.live != nil {
			err = n.live.close()
		}
	})
	return err
}
