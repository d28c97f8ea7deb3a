package realm

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/coretest"
	"github.com/roach88/realm/internal/core/memory"
)

func newTestLiveRealm(t *testing.T) (*liveRealm, *versionTracker) {
	t.Helper()
	cfg := NewConfig("snapshots",
		WithEngine(memory.New()),
		WithSchema(coretest.SampleSchema()),
		WithLogger(discardLogger()))
	tracker := newVersionTracker(cfg.Logger, cfg.Metrics)
	l, err := openLiveRealm(context.Background(), cfg, tracker, "test")
	require.NoError(t, err)
	t.Cleanup(func() { l.close() })
	return l, tracker
}

func commit(t *testing.T, l *liveRealm, obj *Object) {
	t.Helper()
	h, err := l.live()
	require.NoError(t, err)
	require.NoError(t, h.BeginWrite())
	_, err = h.Insert(obj.Object, core.UpdatePolicyAll)
	require.NoError(t, err)
	require.NoError(t, h.Commit())
}

func TestSnapshot_ReusedUntilVersionMoves(t *testing.T) {
	l, tracker := newTestLiveRealm(t)

	a, err := l.snapshot()
	require.NoError(t, err)
	b, err := l.snapshot()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, tracker.Len())

	obj := sample("x", 1)
	obj.ID = "x"
	commit(t, l, obj)

	c, err := l.snapshot()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, []uint64{1, 2}, tracker.versions(), "a is still held")
	assert.Equal(t, float64(2), testutil.ToFloat64(tracker.metrics.OpenSnapshots))

	a.release()
	assert.False(t, a.handle.IsClosed())
	b.release()
	assert.True(t, a.handle.IsClosed())
	assert.False(t, a.retain(), "a released snapshot cannot be revived")
	assert.Equal(t, []uint64{2}, tracker.versions())
	c.release()
}

func TestVersionTracker_CloseAll(t *testing.T) {
	l, tracker := newTestLiveRealm(t)

	s, err := l.snapshot()
	require.NoError(t, err)
	tracker.closeAll()

	assert.True(t, s.handle.IsClosed())
	assert.Zero(t, tracker.Len())
	assert.Zero(t, testutil.ToFloat64(tracker.metrics.OpenSnapshots))
	s.release()
	s.release()
}
