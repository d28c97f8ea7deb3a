package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/realm/internal/ir"
	"github.com/roach88/realm/internal/realm"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Policy      string   // "error" | "all"
	Delete      []string // ids to delete
	DeleteClass bool
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <class> [object-json...]",
		Short: "Run one write transaction",
		Long: `Copy objects into the realm, delete objects, or both, in a single
write transaction. Objects are JSON field maps; the primary key field
supplies the id. Deletes run before copies.

Examples:
  realm write Task '{"name":"a","count":1}' '{"name":"b","count":2}'
  realm write Task '{"name":"a","count":5}' --policy all
  realm write Task --delete a --delete b
  realm write Task --delete-class`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "error", "update policy for existing objects (error|all)")
	cmd.Flags().StringArrayVar(&opts.Delete, "delete", nil, "id of an object to delete (repeatable)")
	cmd.Flags().BoolVar(&opts.DeleteClass, "delete-class", false, "delete every object of the class")

	return cmd
}

func runWrite(cmd *cobra.Command, opts *WriteOptions, class string, objects []string) error {
	policy, err := parsePolicy(opts.Policy)
	if err != nil {
		return err
	}
	copies := make([]*realm.Object, len(objects))
	for i, raw := range objects {
		fields, err := parseFields(raw)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("object %d", i), err)
		}
		copies[i] = realm.NewObject(class, fields)
	}

	ctx := cmd.Context()
	r, err := openRealm(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer r.Close()

	written, err := realm.WriteResult(ctx, r, func(m *realm.MutableRealm) ([]*realm.Object, error) {
		if opts.DeleteClass {
			if err := m.DeleteClass(class); err != nil {
				return nil, err
			}
		}
		for _, id := range opts.Delete {
			obj, ok, err := m.Find(class, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("no %s with id %q", class, id)
			}
			if err := m.Delete(obj); err != nil {
				return nil, err
			}
		}
		out := make([]*realm.Object, 0, len(copies))
		for _, obj := range copies {
			stored, err := m.CopyToRealm(obj, policy)
			if err != nil {
				return nil, err
			}
			out = append(out, stored)
		}
		return out, nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "write failed", err)
	}

	v, err := r.Version()
	if err != nil {
		return err
	}
	out := ObjectsOutput{Version: v.Version, Objects: make([]ObjectOutput, len(written))}
	for i, obj := range written {
		out.Objects[i] = objectOutput(obj)
	}
	opts.Logger.Debug("write committed", "version", v, "objects", len(written), "deleted", len(opts.Delete))

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(out)
}

func parsePolicy(s string) (realm.UpdatePolicy, error) {
	switch s {
	case "error":
		return realm.UpdatePolicyError, nil
	case "all":
		return realm.UpdatePolicyAll, nil
	}
	return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid policy %q: must be error or all", s))
}

// parseFields decodes a JSON object into fields.
func parseFields(raw string) (ir.Map, error) {
	v, err := ir.UnmarshalValue([]byte(raw))
	if err != nil {
		return nil, err
	}
	m, ok := v.(ir.Map)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", ir.KindOf(v))
	}
	return m, nil
}
