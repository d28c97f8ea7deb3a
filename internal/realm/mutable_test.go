package realm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/ir"
)

func TestMutableRealm_CopyToRealm(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t, WithIDGenerator(NewFixedGenerator("log-1", "log-2")))
		ctx := context.Background()

		logs, err := WriteResult(ctx, r, func(m *MutableRealm) ([]*Object, error) {
			a, err := m.CopyToRealm(NewObject("Log", ir.NewMap(ir.P("message", ir.String("first")))), UpdatePolicyError)
			if err != nil {
				return nil, err
			}
			b, err := m.CopyToRealm(NewObject("Log", ir.NewMap(ir.P("message", ir.String("second")))), UpdatePolicyError)
			if err != nil {
				return nil, err
			}
			assert.True(t, a.IsManaged())
			assert.False(t, a.IsFrozen())
			assert.True(t, a.IsValid())
			return []*Object{a, b}, nil
		})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, "log-1", logs[0].ID)
		assert.Equal(t, "log-2", logs[1].ID)
		assert.True(t, logs[0].IsFrozen())

		s := sample("a", 1)
		assert.Empty(t, s.ID)
		obj, err := WriteResult(ctx, r, func(m *MutableRealm) (*Object, error) {
			return m.CopyToRealm(s, UpdatePolicyError)
		})
		require.NoError(t, err)
		assert.Equal(t, "a", obj.ID, "primary key resolves the id")
		assert.False(t, s.IsManaged(), "the input stays unmanaged")
	})
}

func TestMutableRealm_UpdatePolicy(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		ctx := context.Background()
		insert(t, r, sample("a", 1))

		_, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
			return m.CopyToRealm(sample("a", 2), UpdatePolicyError)
		})
		assert.ErrorIs(t, err, core.ErrObjectExists)
		assert.True(t, core.IsConflict(err))

		_, err = r.Write(ctx, func(m *MutableRealm) (any, error) {
			return m.CopyToRealm(sample("a", 3), UpdatePolicyAll)
		})
		require.NoError(t, err)
		obj, ok, err := r.Find("Sample", "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, ir.Int(3), obj.Get("count"))
	})
}

func TestMutableRealm_ReadsOwnWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		insert(t, r, sample("a", 1), sample("b", 2))

		_, err := r.Write(context.Background(), func(m *MutableRealm) (any, error) {
			if _, err := m.CopyToRealm(sample("c", 3), UpdatePolicyError); err != nil {
				return nil, err
			}
			a, ok, err := m.Find("Sample", "a")
			if err != nil || !ok {
				return nil, errors.New("a missing")
			}
			if err := m.Delete(a); err != nil {
				return nil, err
			}

			res, err := m.Query("Sample", "count >= $0", 2)
			if err != nil {
				return nil, err
			}
			assert.False(t, res.IsFrozen())
			assert.Equal(t, []string{"b", "c"}, names(t, res))

			_, ok, err = m.FindLatest(a)
			assert.NoError(t, err)
			assert.False(t, ok)
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, count(t, r, "Sample"))
	})
}

func TestMutableRealm_DeleteClassAndAll(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t, WithIDGenerator(NewFixedGenerator("l1")))
		ctx := context.Background()
		insert(t, r, sample("a", 1), NewObject("Log", ir.NewMap(ir.P("message", ir.String("m")))))

		_, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
			return nil, m.DeleteClass("Sample")
		})
		require.NoError(t, err)
		assert.Zero(t, count(t, r, "Sample"))
		assert.Equal(t, 1, count(t, r, "Log"))

		_, err = r.Write(ctx, func(m *MutableRealm) (any, error) {
			return nil, m.DeleteClass("Missing")
		})
		assert.True(t, core.IsSchemaError(err), "got %v", err)

		_, err = r.Write(ctx, func(m *MutableRealm) (any, error) {
			return nil, m.DeleteAll()
		})
		require.NoError(t, err)
		assert.Zero(t, count(t, r, "Log"))
	})
}

func TestMutableRealm_DeleteUnmanaged(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		_, err := r.Write(context.Background(), func(m *MutableRealm) (any, error) {
			return nil, m.Delete(sample("a", 1))
		})
		assert.ErrorIs(t, err, ErrUnmanagedObject)
	})
}

func TestMutableRealm_ScopeEndsWithClosure(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		ctx := context.Background()

		var (
			escaped *MutableRealm
			live    *Results
		)
		_, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
			escaped = m
			res, err := m.Objects("Sample")
			live = res
			assert.True(t, m.InTransaction())
			return nil, err
		})
		require.NoError(t, err)

		assert.False(t, escaped.InTransaction())
		_, err = escaped.CopyToRealm(sample("late", 1), UpdatePolicyError)
		assert.True(t, IsScopeError(err))
		_, _, err = escaped.Find("Sample", "late")
		assert.ErrorIs(t, err, ErrTransactionScope)
		_, err = escaped.Version()
		assert.ErrorIs(t, err, ErrTransactionScope)
		assert.ErrorIs(t, escaped.CancelWrite(), ErrTransactionScope)
		_, err = live.Count()
		assert.ErrorIs(t, err, ErrTransactionScope)
	})
}

func TestMutableRealm_CancelWrite(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		before, err := r.Version()
		require.NoError(t, err)

		v, err := r.Write(context.Background(), func(m *MutableRealm) (any, error) {
			if _, err := m.CopyToRealm(sample("a", 1), UpdatePolicyError); err != nil {
				return nil, err
			}
			if err := m.CancelWrite(); err != nil {
				return nil, err
			}
			assert.False(t, m.InTransaction())
			return "cancelled", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "cancelled", v)

		after, err := r.Version()
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Zero(t, count(t, r, "Sample"))
	})
}

// customManaged is a managed value Write has no freezing rule for.
type customManaged struct{ managed bool }

func (c customManaged) IsManaged() bool { return c.managed }

func TestWrite_FreezesResult(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open opener) {
		r := open(t)
		ctx := context.Background()
		insert(t, r, sample("a", 1), sample("b", 2))

		t.Run("results", func(t *testing.T) {
			res, err := WriteResult(ctx, r, func(m *MutableRealm) (*Results, error) {
				return m.Query("Sample", "count > $0", 1)
			})
			require.NoError(t, err)
			assert.True(t, res.IsFrozen())
			assert.Equal(t, []string{"b"}, names(t, res))
		})

		t.Run("deleted object stays live", func(t *testing.T) {
			obj, err := WriteResult(ctx, r, func(m *MutableRealm) (*Object, error) {
				o, _, err := m.Find("Sample", "a")
				if err != nil {
					return nil, err
				}
				return o, m.Delete(o)
			})
			require.NoError(t, err)
			assert.False(t, obj.IsFrozen())
			assert.False(t, obj.IsValid())
		})

		t.Run("plain values pass through", func(t *testing.T) {
			v, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
				return map[string]int{"n": 1}, nil
			})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"n": 1}, v)

			v, err = r.Write(ctx, func(m *MutableRealm) (any, error) {
				return customManaged{managed: false}, nil
			})
			require.NoError(t, err)
			assert.Equal(t, customManaged{}, v)
		})

		t.Run("live values returned by value", func(t *testing.T) {
			_, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
				o, err := m.CopyToRealm(sample("c", 3), UpdatePolicyAll)
				if err != nil {
					return nil, err
				}
				return *o, nil
			})
			assert.ErrorIs(t, err, ErrUnrecognizedFreeze)

			_, err = r.Write(ctx, func(m *MutableRealm) (any, error) {
				res, err := m.Objects("Sample")
				if err != nil {
					return nil, err
				}
				return *res, nil
			})
			assert.ErrorIs(t, err, ErrUnrecognizedFreeze)

			v, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
				return *sample("d", 4), nil
			})
			require.NoError(t, err)
			assert.False(t, v.(Object).IsManaged())
		})

		t.Run("unknown managed value", func(t *testing.T) {
			_, err := r.Write(ctx, func(m *MutableRealm) (any, error) {
				return customManaged{managed: true}, nil
			})
			assert.ErrorIs(t, err, ErrUnrecognizedFreeze)
		})
	})
}
