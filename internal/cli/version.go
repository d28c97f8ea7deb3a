package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/realm/internal/ir"
)

// VersionOutput describes the published snapshot.
type VersionOutput struct {
	Binding string   `json:"binding"`
	Version uint64   `json:"version"`
	Index   uint64   `json:"index"`
	Pinned  []uint64 `json:"pinned"`
	Classes []string `json:"classes"`
}

func (v VersionOutput) String() string {
	return fmt.Sprintf("realm %s\nversion %d (index %d)\npinned %v\nclasses %v", v.Binding, v.Version, v.Index, v.Pinned, v.Classes)
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the latest committed version",
		Long: `Print the version of the latest committed snapshot, the versions the
process still holds open, and the stored classes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRealm(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer r.Close()

			v, err := r.Refresh()
			if err != nil {
				return WrapExitError(ExitFailure, "refresh failed", err)
			}
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(VersionOutput{
				Binding: ir.BindingVersion,
				Version: v.Version,
				Index:   v.Index,
				Pinned:  r.PinnedVersions(),
				Classes: r.Schema().ClassNames(),
			})
		},
	}
}
