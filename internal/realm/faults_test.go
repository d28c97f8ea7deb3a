package realm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/coretest"
	"github.com/roach88/realm/internal/core/memory"
)

var (
	errRefresh  = errors.New("engine refresh failed")
	errCommit   = errors.New("engine commit failed")
	errRollback = errors.New("engine rollback failed")
)

// faultyEngine wraps an engine so tests can make handle calls fail.
type faultyEngine struct {
	core.Engine
	failRefresh  atomic.Bool
	failCommit   atomic.Bool
	failRollback atomic.Bool
}

func (e *faultyEngine) Open(ctx context.Context, cfg core.Config) (core.LiveHandle, error) {
	h, err := e.Engine.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &faultyHandle{LiveHandle: h, engine: e}, nil
}

type faultyHandle struct {
	core.LiveHandle
	engine *faultyEngine
}

func (h *faultyHandle) Refresh() (bool, error) {
	if h.engine.failRefresh.Load() {
		return false, errRefresh
	}
	return h.LiveHandle.Refresh()
}

// Commit fails with the transaction still open.
func (h *faultyHandle) Commit() error {
	if h.engine.failCommit.Load() {
		return errCommit
	}
	return h.LiveHandle.Commit()
}

// Rollback discards the transaction but reports a failure.
func (h *faultyHandle) Rollback() error {
	if err := h.LiveHandle.Rollback(); err != nil {
		return err
	}
	if h.engine.failRollback.Load() {
		return errRollback
	}
	return nil
}

// lockedBuffer is a log sink shared by the Realm's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func openFaulty(t *testing.T, opts ...Option) (*Realm, *faultyEngine) {
	t.Helper()
	engine := &faultyEngine{Engine: memory.New()}
	base := []Option{
		WithEngine(engine),
		WithSchema(coretest.SampleSchema()),
		WithLogger(discardLogger()),
	}
	r, err := Open(context.Background(), t.Name(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, engine
}

func TestRefresh_ReportsEngineFailure(t *testing.T) {
	r, engine := openFaulty(t)
	insert(t, r, sample("a", 1))

	engine.failRefresh.Store(true)
	_, err := r.Refresh()
	assert.ErrorIs(t, err, errRefresh)

	engine.failRefresh.Store(false)
	v, err := r.Refresh()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.Version)
}

func TestObserve_ReportsRefreshFailure(t *testing.T) {
	r, engine := openFaulty(t)
	insert(t, r, sample("a", 1))
	obj, _, err := r.Find("Sample", "a")
	require.NoError(t, err)

	engine.failRefresh.Store(true)
	token, err := r.Observe(obj, func(ObjectChange) {
		t.Error("callback registered after a failed refresh")
	})
	assert.ErrorIs(t, err, errRefresh)
	assert.Nil(t, token)

	engine.failRefresh.Store(false)
	insert(t, r, sample("a", 2))
}

func TestWrite_CommitFailureKeepsRollbackError(t *testing.T) {
	r, engine := openFaulty(t)
	before, err := r.Version()
	require.NoError(t, err)

	engine.failCommit.Store(true)
	engine.failRollback.Store(true)
	_, err = r.Write(context.Background(), func(m *MutableRealm) (any, error) {
		_, err := m.CopyToRealm(sample("a", 1), UpdatePolicyError)
		return nil, err
	})
	assert.ErrorIs(t, err, errCommit)
	assert.ErrorIs(t, err, errRollback)

	engine.failCommit.Store(false)
	engine.failRollback.Store(false)
	after, err := r.Version()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, count(t, r, "Sample"))

	insert(t, r, sample("a", 1))
	assert.Equal(t, 1, count(t, r, "Sample"))
}

func TestWrite_PanicLogsRollbackFailure(t *testing.T) {
	var logs lockedBuffer
	r, engine := openFaulty(t, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	engine.failRollback.Store(true)
	assert.PanicsWithValue(t, "kaboom", func() {
		r.Write(context.Background(), func(m *MutableRealm) (any, error) {
			if _, err := m.CopyToRealm(sample("a", 1), UpdatePolicyError); err != nil {
				return nil, err
			}
			panic("kaboom")
		})
	})
	assert.Contains(t, logs.String(), "rollback after panic failed")
	assert.Contains(t, logs.String(), errRollback.Error())

	engine.failRollback.Store(false)
	assert.Zero(t, count(t, r, "Sample"))
}
