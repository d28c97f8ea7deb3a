// Package coretest is a conformance suite for core.Engine implementations.
package coretest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

// Factory returns a fresh engine and a database path unique to the test.
type Factory func(t *testing.T) (core.Engine, string)

// SampleSchema is the schema every conformance test opens with.
func SampleSchema() ir.Schema {
	return ir.Schema{Classes: []ir.Class{
		{
			Name:       "Sample",
			PrimaryKey: "name",
			Properties: []ir.Property{
				{Name: "name", Type: ir.TypeString},
				{Name: "count", Type: ir.TypeInt},
				{Name: "done", Type: ir.TypeBool},
				{Name: "tags", Type: ir.TypeArray},
				{Name: "description", Type: ir.TypeString, Optional: true},
			},
		},
		{
			Name:       "Log",
			Properties: []ir.Property{{Name: "message", Type: ir.TypeString}},
		},
	}}
}

// Sample builds a valid Sample object.
func Sample(name string, count int64) ir.Object {
	return ir.Object{
		Class: "Sample",
		ID:    name,
		Fields: ir.NewMap(
			ir.P("name", ir.String(name)),
			ir.P("count", ir.Int(count)),
			ir.P("done", ir.Bool(false)),
			ir.P("tags", ir.Array{}),
		),
	}
}

// Open opens a live handle with SampleSchema and closes it at cleanup.
func Open(t *testing.T, e core.Engine, path string) core.LiveHandle {
	t.Helper()
	h, err := e.Open(context.Background(), core.Config{Path: path, Schema: SampleSchema()})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// Write runs fn in a write transaction on h and commits.
func Write(t *testing.T, h core.LiveHandle, fn func()) {
	t.Helper()
	require.NoError(t, h.BeginWrite())
	fn()
	require.NoError(t, h.Commit())
}

// Insert writes objs in one transaction.
func Insert(t *testing.T, h core.LiveHandle, objs ...ir.Object) {
	t.Helper()
	Write(t, h, func() {
		for _, obj := range objs {
			_, err := h.Insert(obj, core.UpdatePolicyAll)
			require.NoError(t, err)
		}
	})
}

func version(t *testing.T, h core.Handle) uint64 {
	t.Helper()
	v, err := h.Version()
	require.NoError(t, err)
	return v.Version
}

func ids(objs []ir.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.ID
	}
	return out
}

// Run exercises every engine contract against engines from newEngine.
func Run(t *testing.T, newEngine Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e core.Engine, path string)
	}{
		{"NewDatabaseStartsAtVersionOne", testNewDatabase},
		{"CommitAdvancesVersion", testCommitAdvancesVersion},
		{"RollbackDiscards", testRollbackDiscards},
		{"FreezePinsVersion", testFreezePinsVersion},
		{"FrozenSurvivesLiveClose", testFrozenSurvivesLiveClose},
		{"RefreshAdvances", testRefreshAdvances},
		{"BeginWriteAdvancesToLatest", testBeginWriteAdvances},
		{"TransactionState", testTransactionState},
		{"UpdatePolicies", testUpdatePolicies},
		{"Delete", testDelete},
		{"DeleteClassAndAll", testDeleteClassAndAll},
		{"SchemaChecks", testSchemaChecks},
		{"SchemaAdoption", testSchemaAdoption},
		{"Query", testQuery},
		{"QueryReadsTransaction", testQueryReadsTransaction},
		{"ObjectCallbacks", testObjectCallbacks},
		{"ObjectCallbackOnRefresh", testObjectCallbackOnRefresh},
		{"ChangeCallbacks", testChangeCallbacks},
		{"ClosedHandle", testClosedHandle},
		{"WritersSerialize", testWritersSerialize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, path := newEngine(t)
			tt.fn(t, e, path)
		})
	}
}

func testNewDatabase(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)

	v, err := h.Version()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Version)
	assert.Equal(t, uint64(1), v.Index)
	assert.False(t, h.InTransaction())
	assert.Equal(t, []string{"Sample", "Log"}, h.Schema().ClassNames())
}

func testCommitAdvancesVersion(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	before := version(t, h)

	Insert(t, h, Sample("a", 1))
	assert.Equal(t, before+1, version(t, h))

	obj, ok, err := h.Find("Sample", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), obj.Get("count"))
}

func testRollbackDiscards(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	before := version(t, h)

	require.NoError(t, h.BeginWrite())
	_, err := h.Insert(Sample("a", 1), core.UpdatePolicyError)
	require.NoError(t, err)
	require.NoError(t, h.Rollback())

	assert.Equal(t, before, version(t, h))
	_, ok, err := h.Find("Sample", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFreezePinsVersion(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1))
	pinned := version(t, h)

	frozen, err := h.Freeze()
	require.NoError(t, err)
	defer frozen.Close()

	Write(t, h, func() {
		_, err := h.Insert(Sample("a", 2), core.UpdatePolicyAll)
		require.NoError(t, err)
		_, err = h.Insert(Sample("b", 1), core.UpdatePolicyError)
		require.NoError(t, err)
	})

	assert.Equal(t, pinned, version(t, frozen))
	obj, ok, err := frozen.Find("Sample", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), obj.Get("count"))

	q, err := frozen.ParseQuery("Sample", "TRUEPREDICATE")
	require.NoError(t, err)
	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The live handle keeps moving.
	obj, _, err = h.Find("Sample", "a")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), obj.Get("count"))
}

func testFrozenSurvivesLiveClose(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1))

	frozen, err := h.Freeze()
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, ok, err := frozen.Find("Sample", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, frozen.Close())
	require.NoError(t, frozen.Close())
	assert.True(t, frozen.IsClosed())
	_, _, err = frozen.Find("Sample", "a")
	assert.True(t, core.IsClosedError(err))
}

func testRefreshAdvances(t *testing.T, e core.Engine, path string) {
	writer := Open(t, e, path)
	reader := Open(t, e, path)

	start := version(t, reader)
	Insert(t, writer, Sample("a", 1))

	_, ok, err := reader.Find("Sample", "a")
	require.NoError(t, err)
	assert.False(t, ok, "reader must not see commits before refreshing")
	assert.Equal(t, start, version(t, reader))

	advanced, err := reader.Refresh()
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, version(t, writer), version(t, reader))

	_, ok, err = reader.Find("Sample", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	advanced, err = reader.Refresh()
	require.NoError(t, err)
	assert.False(t, advanced)
}

func testBeginWriteAdvances(t *testing.T, e core.Engine, path string) {
	first := Open(t, e, path)
	second := Open(t, e, path)

	Insert(t, first, Sample("a", 1))
	Write(t, second, func() {
		_, err := second.Insert(Sample("a", 5), core.UpdatePolicyError)
		require.True(t, core.IsConflict(err), "got %v", err)
	})
	assert.Equal(t, version(t, first)+1, version(t, second))
}

func testTransactionState(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)

	assert.True(t, core.IsTransactionError(h.Commit()))
	assert.True(t, core.IsTransactionError(h.Rollback()))
	_, err := h.Insert(Sample("a", 1), core.UpdatePolicyAll)
	assert.True(t, core.IsTransactionError(err))

	require.NoError(t, h.BeginWrite())
	assert.True(t, h.InTransaction())
	assert.True(t, core.IsTransactionError(h.BeginWrite()))

	_, err = h.Freeze()
	assert.True(t, core.IsTransactionError(err))
	assert.ErrorIs(t, err, core.ErrInTransaction)

	advanced, err := h.Refresh()
	require.NoError(t, err)
	assert.False(t, advanced)

	require.NoError(t, h.Rollback())
	assert.False(t, h.InTransaction())
}

func testUpdatePolicies(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1))

	require.NoError(t, h.BeginWrite())
	_, err := h.Insert(Sample("a", 2), core.UpdatePolicyError)
	assert.True(t, core.IsConflict(err))
	assert.ErrorIs(t, err, core.ErrObjectExists)

	updated := Sample("a", 3)
	updated.Fields["description"] = ir.String("replaced")
	stored, err := h.Insert(updated, core.UpdatePolicyAll)
	require.NoError(t, err)
	assert.Equal(t, ir.String("replaced"), stored.Get("description"))
	require.NoError(t, h.Commit())

	obj, _, err := h.Find("Sample", "a")
	require.NoError(t, err)
	assert.Equal(t, ir.Int(3), obj.Get("count"))
	assert.Equal(t, ir.String("replaced"), obj.Get("description"))
}

func testDelete(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1), Sample("b", 2))

	Write(t, h, func() {
		require.NoError(t, h.Delete("Sample", "a"))
		err := h.Delete("Sample", "a")
		assert.True(t, core.IsNotFound(err), "got %v", err)
	})

	_, ok, err := h.Find("Sample", "a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = h.Find("Sample", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDeleteClassAndAll(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	log := ir.Object{Class: "Log", ID: "l1", Fields: ir.NewMap(ir.P("message", ir.String("hi")))}
	Insert(t, h, Sample("a", 1), Sample("b", 2), log)

	Write(t, h, func() {
		require.NoError(t, h.DeleteClass("Sample"))
		assert.True(t, core.IsSchemaError(h.DeleteClass("Nope")))
	})
	_, ok, err := h.Find("Log", "l1")
	require.NoError(t, err)
	assert.True(t, ok)
	q, err := h.ParseQuery("Sample", "")
	require.NoError(t, err)
	n, err := q.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	Write(t, h, func() {
		require.NoError(t, h.DeleteAll())
	})
	_, ok, err = h.Find("Log", "l1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSchemaChecks(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	require.NoError(t, h.BeginWrite())
	defer h.Rollback()

	tests := []struct {
		name string
		obj  ir.Object
	}{
		{"unknown class", ir.Object{Class: "Nope", ID: "x"}},
		{"missing id", ir.Object{Class: "Log", Fields: ir.NewMap(ir.P("message", ir.String("m")))}},
		{"wrong type", func() ir.Object {
			o := Sample("a", 1)
			o.Fields["count"] = ir.String("one")
			return o
		}()},
		{"missing field", ir.Object{Class: "Sample", ID: "a", Fields: ir.NewMap(ir.P("name", ir.String("a")))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Insert(tt.obj, core.UpdatePolicyAll)
			require.Error(t, err)
			assert.True(t, core.IsSchemaError(err), "got %v", err)
		})
	}

	_, err := h.ParseQuery("Nope", "")
	assert.True(t, core.IsSchemaError(err))
	_, err = h.ParseQuery("Sample", "missing == 1")
	assert.True(t, core.IsQueryError(err))
	_, err = h.ParseQuery("Sample", "count ==")
	assert.True(t, core.IsQueryError(err))
}

func testSchemaAdoption(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1))

	adopted, err := e.Open(context.Background(), core.Config{Path: path})
	require.NoError(t, err)
	defer adopted.Close()
	assert.Equal(t, []string{"Sample", "Log"}, adopted.Schema().ClassNames())

	other := ir.Schema{Classes: []ir.Class{{
		Name:       "Other",
		Properties: []ir.Property{{Name: "x", Type: ir.TypeInt}},
	}}}
	_, err = e.Open(context.Background(), core.Config{Path: path, Schema: other})
	require.Error(t, err)
	assert.True(t, core.IsSchemaError(err))
	assert.ErrorIs(t, err, core.ErrSchemaMismatch)
}

func testQuery(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	c := Sample("c", 3)
	c.Fields["done"] = ir.Bool(true)
	Insert(t, h, Sample("b", 2), Sample("a", 1), c, Sample("d", 4))

	tests := []struct {
		predicate string
		args      []ir.Value
		want      []string
	}{
		{"", nil, []string{"a", "b", "c", "d"}},
		{"count > 1 AND count < 4", nil, []string{"b", "c"}},
		{"done == true", nil, []string{"c"}},
		{"count >= $0 || name == $1", []ir.Value{ir.Int(4), ir.String("a")}, []string{"a", "d"}},
		{"NOT (count <= 2)", nil, []string{"c", "d"}},
		{"description == nil", nil, []string{"a", "b", "c", "d"}},
		{"FALSEPREDICATE", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			q, err := h.ParseQuery("Sample", tt.predicate, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, "Sample", q.Class())

			objs, err := q.Find()
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, objs)
			} else {
				assert.Equal(t, tt.want, ids(objs))
			}
			n, err := q.Count()
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
		})
	}
}

func testQueryReadsTransaction(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	q, err := h.ParseQuery("Sample", "count > 0")
	require.NoError(t, err)

	require.NoError(t, h.BeginWrite())
	_, err = h.Insert(Sample("a", 1), core.UpdatePolicyError)
	require.NoError(t, err)
	n, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, h.Rollback())

	n, err = q.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testObjectCallbacks(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	Insert(t, h, Sample("a", 1), Sample("b", 1))

	var changes []core.ObjectChange
	reg, err := h.AddObjectCallback("Sample", "a", func(c core.ObjectChange) {
		changes = append(changes, c)
	})
	require.NoError(t, err)

	// Unrelated commit: no delivery.
	Insert(t, h, Sample("b", 2))
	assert.Empty(t, changes)

	Insert(t, h, Sample("a", 2))
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"count"}, changes[0].ChangedFields)
	assert.Equal(t, ir.Int(2), changes[0].Object.Get("count"))
	assert.False(t, changes[0].Deleted)
	assert.Equal(t, version(t, h), changes[0].Version.Version)

	Write(t, h, func() { require.NoError(t, h.Delete("Sample", "a")) })
	require.Len(t, changes, 2)
	assert.True(t, changes[1].Deleted)
	assert.Equal(t, "a", changes[1].Object.ID)

	// Deleted objects stop delivering.
	Insert(t, h, Sample("a", 9))
	assert.Len(t, changes, 2)
	reg.Cancel()
	reg.Cancel()

	_, err = h.AddObjectCallback("Sample", "missing", func(core.ObjectChange) {})
	assert.True(t, core.IsNotFound(err))
}

func testObjectCallbackOnRefresh(t *testing.T, e core.Engine, path string) {
	writer := Open(t, e, path)
	reader := Open(t, e, path)
	Insert(t, writer, Sample("a", 1))
	_, err := reader.Refresh()
	require.NoError(t, err)

	var changes []core.ObjectChange
	_, err = reader.AddObjectCallback("Sample", "a", func(c core.ObjectChange) {
		changes = append(changes, c)
	})
	require.NoError(t, err)

	Insert(t, writer, Sample("a", 5))
	assert.Empty(t, changes)

	advanced, err := reader.Refresh()
	require.NoError(t, err)
	assert.True(t, advanced)
	require.Len(t, changes, 1)
	assert.Equal(t, ir.Int(5), changes[0].Object.Get("count"))
}

func testChangeCallbacks(t *testing.T, e core.Engine, path string) {
	writer := Open(t, e, path)
	reader := Open(t, e, path)

	var (
		mu       sync.Mutex
		own      []core.VersionID
		observed []core.VersionID
	)
	writer.AddChangeCallback(func(v core.VersionID) {
		mu.Lock()
		own = append(own, v)
		mu.Unlock()
	})
	reg := reader.AddChangeCallback(func(v core.VersionID) {
		mu.Lock()
		observed = append(observed, v)
		mu.Unlock()
	})

	Insert(t, writer, Sample("a", 1))
	committed := version(t, writer)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, committed, observed[0].Version)
	assert.Empty(t, own, "a handle is not notified of its own commits")
	mu.Unlock()

	reg.Cancel()
	Insert(t, writer, Sample("b", 1))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, observed, 1)
	mu.Unlock()
}

func testClosedHandle(t *testing.T, e core.Engine, path string) {
	h := Open(t, e, path)
	require.NoError(t, h.BeginWrite())
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.IsClosed())

	_, err := h.Version()
	assert.True(t, core.IsClosedError(err))
	_, _, err = h.Find("Sample", "a")
	assert.True(t, core.IsClosedError(err))
	assert.True(t, core.IsClosedError(h.BeginWrite()))
	_, err = h.Freeze()
	assert.True(t, core.IsClosedError(err))
	_, err = h.Refresh()
	assert.True(t, core.IsClosedError(err))

	// Closing inside a transaction released the write lock.
	other := Open(t, e, path)
	done := make(chan error, 1)
	go func() { done <- other.BeginWrite() }()
	select {
	case err := <-done:
		require.NoError(t, err)
		require.NoError(t, other.Rollback())
	case <-time.After(5 * time.Second):
		t.Fatal("BeginWrite blocked after the writer closed")
	}
}

func testWritersSerialize(t *testing.T, e core.Engine, path string) {
	first := Open(t, e, path)
	second := Open(t, e, path)

	require.NoError(t, first.BeginWrite())

	started := make(chan error, 1)
	go func() { started <- second.BeginWrite() }()

	select {
	case <-started:
		t.Fatal("second writer began while the first held the write lock")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := first.Insert(Sample("a", 1), core.UpdatePolicyError)
	require.NoError(t, err)
	require.NoError(t, first.Commit())

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never began")
	}
	_, ok, err := second.Find("Sample", "a")
	require.NoError(t, err)
	assert.True(t, ok, "a writer reads the latest version")
	require.NoError(t, second.Commit())
	assert.Equal(t, version(t, first)+1, version(t, second))
}
