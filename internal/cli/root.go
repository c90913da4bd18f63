package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcam/internal/config"
	"github.com/roach88/dropcam/internal/logger"
	"github.com/roach88/dropcam/internal/media"
)

// RootOptions holds global flags and the state every command shares.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Filled by the root PersistentPreRunE.
	Config config.Config
	Logger *slog.Logger

	// Test seams; nil means the ffprobe/ffmpeg implementations.
	prober    media.Prober
	extractor media.Extractor
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dropcam CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropcam",
		Short: "dropcam - drop camera survey video tooling",
		Long: `Match drop camera videos to survey waypoints, rename them, and record
validated per-drop observations with extracted stills.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (YAML)")

	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewDropsCommand(opts))

	return cmd
}

// setup validates global flags, loads the configuration and builds the
// logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		f := o.formatter(cmd)
		f.Format = "text"
		return f.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats), nil)
	}

	cfg, err := config.Load(o.ConfigPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		_ = o.formatter(cmd).Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}
	o.Config = cfg

	level := cfg.Log.Level
	if o.Verbose && logger.ParseLevel(level) > slog.LevelDebug {
		level = "debug"
	}
	o.Logger = logger.New(cmd.ErrOrStderr(), logger.Options{
		Level:     level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	return nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
