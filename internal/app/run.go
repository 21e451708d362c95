package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/offsync/internal/model"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Run starts the long-lived loops until ctx is done: interface watching,
// health probing, the timer trigger and (when enabled) the metrics server.
// A client that is online at startup drains its outbox right away.
//
// With network.initial_online set, host interfaces are not watched and the
// health probe is the only connectivity signal.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	if a.Config.Metrics.Enabled {
		var err error
		if ln, err = net.Listen("tcp", a.Config.Metrics.Addr); err != nil {
			return fmt.Errorf("listen on %s: %w", a.Config.Metrics.Addr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if !a.Config.Network.InitialOnline {
		g.Go(func() error {
			a.Monitor.Watch(ctx, a.interfaces.Watch(ctx))
			return nil
		})
	}
	g.Go(func() error {
		return ignoreCanceled(a.Monitor.Run(ctx))
	})

	if a.SyncEnabled() {
		g.Go(func() error {
			return ignoreCanceled(a.Orchestrator.Run(ctx))
		})
		if a.Monitor.IsOnline() {
			a.Orchestrator.RequestSync(model.TriggerReconnect)
		}
	}

	if ln != nil {
		g.Go(func() error {
			return a.serve(ctx, ln)
		})
	}

	a.Logger.Info("offsync client running",
		zap.String("tenant_id", a.Config.Tenant),
		zap.Bool("online", a.Monitor.IsOnline()),
		zap.Bool("sync_enabled", a.SyncEnabled()),
	)
	err := g.Wait()
	a.Orchestrator.Wait()
	return err
}

// serve runs the HTTP server on ln until ctx is done.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("metrics server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	a.Logger.Info("metrics server stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
