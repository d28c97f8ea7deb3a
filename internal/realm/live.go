package realm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/realm/internal/core"
)

// liveRealm owns one live handle and the latest snapshot frozen from it.
// It is confined to the goroutine of the worker that opened it.
type liveRealm struct {
	role    string
	handle  core.LiveHandle // nil once closed
	snap    *snapshot
	tracker *versionTracker
	log     *slog.Logger
}

func openLiveRealm(ctx context.Context, cfg Config, tracker *versionTracker, role string) (*liveRealm, error) {
	h, err := cfg.Engine.Open(ctx, cfg.engineConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s live realm: %w", role, err)
	}
	l := &liveRealm{
		role:    role,
		handle:  h,
		tracker: tracker,
		log:     cfg.Logger.With("live", role),
	}
	if v, err := h.Version(); err == nil {
		l.log.Debug("live realm opened", "version", v)
	}
	return l, nil
}

func (l *liveRealm) isClosed() bool {
	return l.handle == nil
}

func (l *liveRealm) live() (core.LiveHandle, error) {
	if l.handle == nil {
		return nil, fmt.Errorf("%s live realm: %w", l.role, ErrClosed)
	}
	return l.handle, nil
}

// snapshot returns a retained snapshot at the live handle's current
// version, freezing a new one only when the version moved.
func (l *liveRealm) snapshot() (*snapshot, error) {
	h, err := l.live()
	if err != nil {
		return nil, err
	}
	v, err := h.Version()
	if err != nil {
		return nil, err
	}
	if l.snap != nil && l.snap.version == v && l.snap.retain() {
		return l.snap, nil
	}

	frozen, err := h.Freeze()
	if err != nil {
		return nil, fmt.Errorf("freeze %s live realm: %w", l.role, err)
	}
	s, err := l.tracker.track(frozen)
	if err != nil {
		frozen.Close()
		return nil, err
	}

	// The superseded snapshot closes now unless a reader still holds it.
	if l.snap != nil {
		l.snap.release()
	}
	l.snap = s
	s.retain()
	return s, nil
}

// close releases the snapshot and the live handle. Calling close again is
// a no-op.
func (l *liveRealm) close() error {
	if l.handle == nil {
		return nil
	}
	if l.snap != nil {
		l.snap.release()
		l.snap = nil
	}
	err := l.handle.Close()
	l.handle = nil
	l.log.Debug("live realm closed")
	return err
}
