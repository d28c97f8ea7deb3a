package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/realm/internal/ir"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Args  []string // JSON values bound to $0, $1, ...
	Count bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <class> [predicate]",
		Short: "Query the published snapshot",
		Long: `Print the objects of a class matching a predicate, ordered by id.
Each --arg binds the next positional placeholder; it is parsed as JSON
and falls back to a plain string.

Examples:
  realm query Task
  realm query Task 'count >= $0 AND done == false' --arg 2
  realm query Task 'name == $0' --arg Foo --count`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := ""
			if len(args) == 2 {
				predicate = args[1]
			}
			return runQuery(cmd, opts, args[0], predicate)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "predicate argument (repeatable)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print only the number of matches")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, class, predicate string) error {
	args := make([]any, len(opts.Args))
	for i, raw := range opts.Args {
		args[i] = parseArg(raw)
	}

	r, err := openRealm(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Query(class, predicate, args...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid query", err)
	}
	v, _ := res.Version()
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if opts.Count {
		n, err := res.Count()
		if err != nil {
			return WrapExitError(ExitFailure, "query failed", err)
		}
		if opts.Format == "json" {
			return f.Success(map[string]any{"version": v.Version, "count": n})
		}
		return f.Success(fmt.Sprintf("%d", n))
	}

	objs, err := res.Find()
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	out := ObjectsOutput{Version: v.Version, Objects: make([]ObjectOutput, len(objs))}
	for i, obj := range objs {
		out.Objects[i] = objectOutput(obj)
	}
	return f.Success(out)
}

// parseArg parses a JSON scalar or container, falling back to the raw
// string.
func parseArg(raw string) ir.Value {
	if v, err := ir.UnmarshalValue([]byte(raw)); err == nil {
		return v
	}
	return ir.String(raw)
}
