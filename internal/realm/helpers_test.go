package realm

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/coretest"
	"github.com/roach88/realm/internal/core/memory"
	"github.com/roach88/realm/internal/core/sqlite"
	"github.com/roach88/realm/internal/ir"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// opener opens Realms on one database; every call shares it.
type opener func(t *testing.T, opts ...Option) *Realm

// forEachEngine runs fn once per engine.
func forEachEngine(t *testing.T, fn func(t *testing.T, open opener)) {
	engines := []struct {
		name string
		make func(t *testing.T) (core.Engine, string)
	}{
		{"memory", func(t *testing.T) (core.Engine, string) { return memory.New(), "test" }},
		{"sqlite", func(t *testing.T) (core.Engine, string) {
			return sqlite.New(), filepath.Join(t.TempDir(), "test.realm")
		}},
	}

	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			engine, path := e.make(t)
			fn(t, func(t *testing.T, opts ...Option) *Realm {
				t.Helper()
				base := []Option{
					WithEngine(engine),
					WithSchema(coretest.SampleSchema()),
					WithLogger(discardLogger()),
				}
				r, err := Open(context.Background(), path, append(base, opts...)...)
				require.NoError(t, err)
				t.Cleanup(func() { r.Close() })
				return r
			})
		})
	}
}

func sample(name string, count int64) *Object {
	return NewObject("Sample", ir.NewMap(
		ir.P("name", ir.String(name)),
		ir.P("count", ir.Int(count)),
		ir.P("done", ir.Bool(false)),
		ir.P("tags", ir.Array{}),
	))
}

// insert writes objs in one transaction and returns the published version.
func insert(t *testing.T, r *Realm, objs ...*Object) core.VersionID {
	t.Helper()
	_, err := r.Write(context.Background(), func(m *MutableRealm) (any, error) {
		for _, o := range objs {
			if _, err := m.CopyToRealm(o, UpdatePolicyAll); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	require.NoError(t, err)
	v, err := r.Version()
	require.NoError(t, err)
	return v
}

func names(t *testing.T, res *Results) []string {
	t.Helper()
	objs, err := res.Find()
	require.NoError(t, err)
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = string(o.Get("name").(ir.String))
	}
	return out
}

func count(t *testing.T, r *Realm, class string) int {
	t.Helper()
	res, err := r.Objects(class)
	require.NoError(t, err)
	n, err := res.Count()
	require.NoError(t, err)
	return n
}
