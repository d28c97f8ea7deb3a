package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/coretest"
	"github.com/roach88/realm/internal/ir"
)

func TestEngineConformance(t *testing.T) {
	coretest.Run(t, func(t *testing.T) (core.Engine, string) {
		return New(), filepath.Join(t.TempDir(), "test.realm")
	})
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.realm")
	coretest.Open(t, New(), path)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_PersistsAcrossEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.realm")

	h := coretest.Open(t, New(), path)
	coretest.Insert(t, h, coretest.Sample("a", 1))
	committed, err := h.Version()
	require.NoError(t, err)
	require.NoError(t, h.Close())

	reopened, err := New().Open(context.Background(), core.Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Version()
	require.NoError(t, err)
	assert.Equal(t, committed, v)
	assert.Equal(t, []string{"Sample", "Log"}, reopened.Schema().ClassNames())

	obj, ok, err := reopened.Find("Sample", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), obj.Get("count"))
}

func TestOpen_RejectsNewerFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.realm")
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = New().Open(context.Background(), core.Config{Path: path, Schema: coretest.SampleSchema()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_SharesDatabasePerPath(t *testing.T) {
	e := New()
	path := filepath.Join(t.TempDir(), "test.realm")
	a := coretest.Open(t, e, path)
	b := coretest.Open(t, e, path)

	assert.Same(t, a.(*liveHandle).db, b.(*liveHandle).db)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.dbs)
}

func TestChangeCallback_ExternalCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.realm")
	reader := coretest.Open(t, New(), path)

	var (
		mu       sync.Mutex
		observed []core.VersionID
	)
	reader.AddChangeCallback(func(v core.VersionID) {
		mu.Lock()
		observed = append(observed, v)
		mu.Unlock()
	})

	// A second Engine stands in for another process.
	writer := coretest.Open(t, New(), path)
	coretest.Insert(t, writer, coretest.Sample("a", 1))
	committed, err := writer.Version()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) > 0 && observed[len(observed)-1] == committed
	}, 5*time.Second, 10*time.Millisecond)

	advanced, err := reader.Refresh()
	require.NoError(t, err)
	assert.True(t, advanced)
	_, ok, err := reader.Find("Sample", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreeze_PinsAgainstExternalWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.realm")
	h := coretest.Open(t, New(), path)
	coretest.Insert(t, h, coretest.Sample("a", 1))

	frozen, err := h.Freeze()
	require.NoError(t, err)
	defer frozen.Close()

	writer := coretest.Open(t, New(), path)
	coretest.Insert(t, writer, coretest.Sample("a", 2), coretest.Sample("b", 1))

	obj, _, err := frozen.Find("Sample", "a")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), obj.Get("count"))

	q, err := frozen.ParseQuery("Sample", "")
	require.NoError(t, err)
	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestObserved_Monotonic(t *testing.T) {
	db := &database{}
	db.lastSeen.Store(3)

	assert.False(t, db.observed(2))
	assert.False(t, db.observed(3))
	assert.True(t, db.observed(4))
	assert.False(t, db.observed(4))
}
