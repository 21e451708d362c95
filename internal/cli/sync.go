package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and report its outcome",
		Long: `Run one sync cycle for the active tenant: claim pending outbox events,
submit them as one batch and apply the server's acknowledgements,
conflicts and rejections.

Offline, empty-outbox and backed-off cycles succeed without contacting
the server. Transport failures leave every event pending.

Exit codes:
  0 - Cycle finished (or had nothing to do)
  1 - Cycle failed
  2 - Command error (no endpoint configured, bad flags, etc.)`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := model.ParseTrigger(trigger)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid trigger", err)
			}

			a, closeApp, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			if err := requireTenant(a); err != nil {
				return err
			}
			if !a.SyncEnabled() {
				return NewExitError(ExitCommandError, "sync endpoint not configured (sync.endpoint or OFFSYNC_SYNC_ENDPOINT)")
			}
			f := rootOpts.formatter(cmd)

			// One probe so a reachable endpoint counts as online even when
			// host interfaces say otherwise.
			if a.Config.Network.HealthURL != "" {
				a.Monitor.Check(cmd.Context())
			}

			result, err := a.Orchestrator.Sync(cmd.Context(), t)
			if err != nil {
				return fail(f, ExitFailure, "sync failed", err)
			}
			return f.Success(result, func(w io.Writer) {
				writeCycle(w, result)
			})
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(model.TriggerManual), "trigger recorded for the cycle (manual|reconnect|timer|mutation)")
	return cmd
}

func writeCycle(w io.Writer, r syncer.CycleResult) {
	fmt.Fprintf(w, "Sync %s (trigger %s)\n", r.Outcome, r.Trigger)
	if r.Submitted > 0 {
		fmt.Fprintf(w, "  submitted %d: %d acknowledged, %d conflicts, %d rejected, %d reverted\n",
			r.Submitted, r.Acknowledged, r.Conflicts, r.Rejected, r.Reverted)
	}
	if r.SyncTimestamp != "" {
		fmt.Fprintf(w, "  server timestamp %s\n", r.SyncTimestamp)
	}
	if r.RetryAfter != nil {
		fmt.Fprintf(w, "  backing off until %s\n", model.FormatTime(*r.RetryAfter))
	}
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List the tenant's outbox events in creation order",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st model.EventStatus
			if status != "" {
				var err error
				if st, err = model.ParseEventStatus(strings.ToUpper(status)); err != nil {
					return WrapExitError(ExitCommandError, "invalid status", err)
				}
			}

			a, closeApp, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			if err := requireTenant(a); err != nil {
				return err
			}
			f := rootOpts.formatter(cmd)

			events, err := a.Queue.List(cmd.Context(), a.Tenant(), st)
			if err != nil {
				return fail(f, ExitFailure, "list outbox failed", err)
			}
			return f.Success(events, func(w io.Writer) {
				if len(events) == 0 {
					fmt.Fprintln(w, "Outbox is empty.")
					return
				}
				for _, ev := range events {
					fmt.Fprintf(w, "%s %-7s %-6s %s/%s v%d attempts=%d",
						ev.ID, ev.Status, ev.Operation, ev.EntityType, ev.EntityID, ev.LocalVersion, ev.AttemptCount)
					if ev.ErrorMessage != "" {
						fmt.Fprintf(w, " error=%q", ev.ErrorMessage)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only events with this status (pending|syncing|synced|failed)")
	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show network, outbox and sync state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			f := rootOpts.formatter(cmd)

			st, err := a.Status(cmd.Context())
			if err != nil {
				return fail(f, ExitFailure, "status failed", err)
			}
			return f.Success(st, func(w io.Writer) {
				fmt.Fprintf(w, "Tenant:    %s\n", st.Tenant)
				fmt.Fprintf(w, "Client:    %s\n", st.ClientID)
				fmt.Fprintf(w, "Network:   %s\n", st.Network)
				fmt.Fprintf(w, "Sync:      %s (enabled: %t)\n", st.Sync, st.SyncEnabled)
				fmt.Fprintf(w, "Outbox:    %d pending, %d syncing, %d synced, %d failed\n",
					st.Outbox.Pending, st.Outbox.Syncing, st.Outbox.Synced, st.Outbox.Failed)
				if s := st.SyncState; s != nil {
					fmt.Fprintf(w, "Last sync: %s (success: %t, conflicts: %d)\n",
						s.LastSyncTimestamp, s.LastSyncSuccess, s.ConflictCount)
					if s.LastError != "" {
						fmt.Fprintf(w, "Error:     %s\n", s.LastError)
					}
				} else {
					fmt.Fprintln(w, "Last sync: never")
				}
			})
		},
	}
}

// ProbeResult is the output of the probe command.
type ProbeResult struct {
	URL    string `json:"url"`
	Online bool   `json:"online"`
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the health endpoint once",
		Long: `Send one HEAD request to network.health_url and report whether the
server is reachable. Exits 1 when it is not.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			url := a.Config.Network.HealthURL
			if url == "" {
				return NewExitError(ExitCommandError, "health URL not configured (network.health_url or OFFSYNC_NETWORK_HEALTH_URL)")
			}
			f := rootOpts.formatter(cmd)

			res := ProbeResult{URL: url, Online: a.Monitor.Check(cmd.Context())}
			if err := f.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", url, map[bool]string{true: "online", false: "offline"}[res.Online])
			}); err != nil {
				return err
			}
			if !res.Online {
				return &reportedError{NewExitError(ExitFailure, "health endpoint unreachable")}
			}
			return nil
		},
	}
}
