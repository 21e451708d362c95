package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/app"
	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	Tenant     string

	// AppOptions are passed to app.New by every command that opens the
	// client. Tests use them to inject a scripted remote and fake network.
	AppOptions []app.Option

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the offsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	opts.viper = viper.New()

	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "offsync - offline-first sync client",
		Long: `An offline-first client store that records every local change in a
durable outbox and synchronizes it with a remote endpoint when online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML config file")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Database, "db", "", "path to the SQLite database (overrides config)")
	flags.StringVar(&opts.Tenant, "tenant", "", "active tenant (overrides config)")
	_ = opts.viper.BindPFlag("database", flags.Lookup("db"))
	_ = opts.viper.BindPFlag("tenant", flags.Lookup("tenant"))

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stderr, or as a JSON envelope on stdout with
// --format json.
func Execute(args []string, stdout, stderr io.Writer, appOpts ...app.Option) int {
	opts := &RootOptions{AppOptions: appOpts}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var reported *reportedError
	if !errors.As(err, &reported) {
		f := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
		_ = f.Error(ErrorCode(err), err.Error(), nil)
	}
	return GetExitCode(err)
}

// reportedError marks an error whose output the command already wrote.
type reportedError struct{ error }

func (e *reportedError) Unwrap() error { return e.error }

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns the output formatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file, environment and flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadViper(o.viper, o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// openApp loads the configuration and opens the client. The returned
// close function must be called when the command is done.
func (o *RootOptions) openApp(ctx context.Context, cmd *cobra.Command) (*app.App, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging, o.Verbose)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}

	a, err := app.New(ctx, cfg, logger, o.AppOptions...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, WrapExitError(ExitCommandError, "failed to open client", err)
	}

	closeFn := func() {
		if err := a.Close(); err != nil {
			logger.Error("close client", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, closeFn, nil
}

// requireTenant fails commands that act on tenant data without a tenant.
func requireTenant(a *app.App) error {
	if a.Tenant() == "" {
		return NewExitError(ExitCommandError, "tenant is required (--tenant, tenant: or OFFSYNC_TENANT)")
	}
	return nil
}

// exactArgs is cobra.ExactArgs with the command-error exit code.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

// fail reports err through the formatter and returns it marked as
// reported, with the exit code of the error kind.
func fail(f *OutputFormatter, code int, message string, err error) error {
	_ = f.Error(ErrorCode(err), fmt.Sprintf("%s: %v", message, err), nil)
	return &reportedError{WrapExitError(code, message, err)}
}
