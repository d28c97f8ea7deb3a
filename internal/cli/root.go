package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes environment variables that set global flags, e.g.
// REALM_PATH or REALM_ENGINE.
const envPrefix = "REALM"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config      string
	Engine      string // "sqlite" | "memory"
	Path        string
	Schema      string // CUE schema file or directory
	HistorySize uint64
	Format      string // "json" | "text"
	Verbose     bool

	// Logger is set up before any subcommand runs.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidEngines defines the allowed storage engines.
var ValidEngines = []string{"sqlite", "memory"}

// NewRootCommand creates the root command for the realm CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "realm",
		Short: "Inspect and modify realm databases",
		Long: `Open a realm database, run writes against it, query its published
snapshot and watch it change.

Global flags may also come from a YAML or TOML file (--config) or from
REALM_* environment variables. Flags win over the environment, which wins
over the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(viper.New(), cmd.Flags()); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidEngines, opts.Engine) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid engine %q: must be one of %v", opts.Engine, ValidEngines))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Config, "config", "c", "", "configuration file (yaml or toml)")
	flags.StringVar(&opts.Engine, "engine", "sqlite", "storage engine (sqlite|memory)")
	flags.StringVar(&opts.Path, "path", "default.realm", "database path")
	flags.StringVar(&opts.Schema, "schema", "", "CUE schema file or directory")
	flags.Uint64Var(&opts.HistorySize, "history-size", 0, "history slots for version indexes (0: default)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// loadConfig fills every flag not set on the command line from the
// environment or the config file. Keys in the file must name a flag.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		switch ext := strings.ToLower(filepath.Ext(c)); ext {
		case ".yaml", ".yml":
			v.SetConfigType("yaml")
		case ".toml":
			v.SetConfigType("toml")
		default:
			return fmt.Errorf("unsupported configuration file type %q", ext)
		}
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %w", c, err)
		}

		valid := make(map[string]bool)
		flags.VisitAll(func(f *pflag.Flag) {
			valid[f.Name] = true
		})
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
