package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/realm/internal/realm"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Limit int // stop after this many events; 0 means run until interrupted
}

// WatchEvent is one printed event.
type WatchEvent struct {
	Kind          string        `json:"kind"`
	Version       uint64        `json:"version"`
	Object        *ObjectOutput `json:"object,omitempty"`
	ChangedFields []string      `json:"changed_fields,omitempty"`
}

func (e WatchEvent) String() string {
	if e.Object == nil {
		return fmt.Sprintf("%s version %d", e.Kind, e.Version)
	}
	return fmt.Sprintf("%s version %d %s[%s] %v", e.Kind, e.Version, e.Object.Class, e.Object.ID, e.ChangedFields)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [class id]",
		Short: "Stream published versions or changes to one object",
		Long: `Without arguments, print an event for every version the realm
publishes, including commits made by other processes. With a class and
id, print every change to that object and stop after it is deleted.

Examples:
  realm watch
  realm watch Task a
  realm watch --limit 3`,
		Args:          cobra.MatchAll(cobra.MaximumNArgs(2), validWatchArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many events (0: until interrupted)")

	return cmd
}

func validWatchArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return fmt.Errorf("watching an object needs both class and id")
	}
	return nil
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := openRealm(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer r.Close()

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	events, err := watchEvents(ctx, r, args)
	if err != nil {
		return err
	}

	n := 0
	for e := range events {
		if err := f.Success(e); err != nil {
			return err
		}
		n++
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
	}
	opts.Logger.Debug("watch stopped", "events", n)
	return nil
}

// watchEvents converts the realm's change stream, or one object's, into
// printable events. The channel closes with ctx or the underlying stream.
func watchEvents(ctx context.Context, r *realm.Realm, args []string) (<-chan WatchEvent, error) {
	out := make(chan WatchEvent)
	send := func(e WatchEvent) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if len(args) == 0 {
		changes, err := r.Changes(ctx)
		if err != nil {
			return nil, err
		}
		go func() {
			defer close(out)
			for c := range changes {
				if !send(WatchEvent{Kind: c.Kind.String(), Version: c.Version.Version}) {
					return
				}
			}
		}()
		return out, nil
	}

	obj, ok, err := r.Find(args[0], args[1])
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to find object", err)
	}
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no %s with id %q", args[0], args[1]))
	}
	changes, err := r.ObserveChanges(ctx, obj)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		for c := range changes {
			kind := "modified"
			if c.Deleted {
				kind = "deleted"
			}
			o := objectOutput(c.Object)
			if !send(WatchEvent{Kind: kind, Version: c.Version.Version, Object: &o, ChangedFields: c.ChangedFields}) {
				return
			}
		}
	}()
	return out, nil
}
