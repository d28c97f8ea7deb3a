package cli

import (
	"context"

	"github.com/roach88/realm/internal/core"
	"github.com/roach88/realm/internal/core/memory"
	"github.com/roach88/realm/internal/core/sqlite"
	"github.com/roach88/realm/internal/realm"
	"github.com/roach88/realm/internal/schema"
)

// newEngine returns the engine named by the --engine flag.
func newEngine(name string) core.Engine {
	if name == "memory" {
		return memory.New()
	}
	return sqlite.New()
}

// openRealm opens the database the global flags describe. Without
// --schema the stored schema is used.
func openRealm(ctx context.Context, opts *RootOptions, extra ...realm.Option) (*realm.Realm, error) {
	ropts := []realm.Option{
		realm.WithEngine(newEngine(opts.Engine)),
		realm.WithLogger(opts.Logger),
		realm.WithHistorySize(opts.HistorySize),
	}
	if opts.Schema != "" {
		s, err := schema.Load(opts.Schema)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
		}
		ropts = append(ropts, realm.WithSchema(s))
	}
	r, err := realm.Open(ctx, opts.Path, append(ropts, extra...)...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open realm", err)
	}
	return r, nil
}
