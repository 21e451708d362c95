package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync client until interrupted",
		Long: `Run the offsync client: follow the host's network state, probe the
health endpoint, sync on reconnect and on every interval, and serve
/status and /metrics when metrics are enabled.

Example:
  offsync run --db ./client.db --tenant school-42
  OFFSYNC_SYNC_ENDPOINT=https://api.example.com/sync offsync run -c offsync.yaml`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(rootOpts, cmd)
		},
	}
}

func runClient(opts *RootOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, closeApp, err := opts.openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeApp()
	if err := requireTenant(a); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.Logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if !a.SyncEnabled() {
		a.Logger.Warn("sync.endpoint is not set; changes stay in the outbox")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "offsync client running for tenant %s. Press Ctrl-C to stop.\n", a.Tenant())

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "client error", err)
	}

	a.Logger.Info("client stopped gracefully")
	return nil
}
