package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/coretest"
)

func TestEngineConformance(t *testing.T) {
	coretest.Run(t, func(t *testing.T) (core.Engine, string) {
		return New(), t.Name()
	})
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	_, err := New().Open(context.Background(), core.Config{Schema: coretest.SampleSchema()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty path")
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Open(ctx, core.Config{Path: "db", Schema: coretest.SampleSchema()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_PathsAreIndependent(t *testing.T) {
	e := New()
	a := coretest.Open(t, e, "a")
	b := coretest.Open(t, e, "b")

	coretest.Insert(t, a, coretest.Sample("x", 1))

	_, err := b.Refresh()
	require.NoError(t, err)
	_, ok, err := b.Find("Sample", "x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, e.Paths())
}

func TestFrozenHandles_ShareStructure(t *testing.T) {
	e := New()
	h := coretest.Open(t, e, "db")
	coretest.Insert(t, h, coretest.Sample("a", 1))

	f1, err := h.Freeze()
	require.NoError(t, err)
	f2, err := h.Freeze()
	require.NoError(t, err)

	v1, err := f1.Version()
	require.NoError(t, err)
	v2, err := f2.Version()
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	// Mutating a returned object does not leak into the snapshot.
	obj, _, err := f1.Find("Sample", "a")
	require.NoError(t, err)
	obj.Fields["count"] = nil
	again, _, err := f2.Find("Sample", "a")
	require.NoError(t, err)
	assert.NotNil(t, again.Fields["count"])
}

func TestVersionIndexWraps(t *testing.T) {
	e := New()
	h, err := e.Open(context.Background(), core.Config{Path: "db", Schema: coretest.SampleSchema(), HistorySize: 2})
	require.NoError(t, err)
	defer h.Close()

	coretest.Insert(t, h, coretest.Sample("a", 1))
	v, err := h.Version()
	require.NoError(t, err)
	assert.Equal(t, core.VersionID{Version: 2, Index: 0}, v)
}
