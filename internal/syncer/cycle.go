package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
)

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeOffline   Outcome = "offline"
	OutcomeNoTenant  Outcome = "no_tenant"
	OutcomeBackoff   Outcome = "backoff"
	OutcomeNoPending Outcome = "no_pending"
	OutcomeSuccess   Outcome = "success"
	OutcomeTransport Outcome = "transport_error"
	OutcomeStorage   Outcome = "storage_error"

	// OutcomeAbandoned is returned to a caller whose context ended before
	// the cycle finished. The cycle itself is unaffected.
	OutcomeAbandoned Outcome = "abandoned"

	// OutcomeStopped is returned by Sync once the orchestrator is stopped.
	OutcomeStopped Outcome = "stopped"
)

// CycleResult summarizes one cycle.
type CycleResult struct {
	Trigger  model.Trigger `json:"trigger"`
	Outcome  Outcome       `json:"outcome"`
	TenantID string        `json:"tenantId,omitempty"`

	// Shared is true when the caller joined a cycle started by another
	// trigger (or others joined this one).
	Shared bool `json:"shared"`

	Submitted    int `json:"submitted"`
	Acknowledged int `json:"acknowledged"`
	Conflicts    int `json:"conflicts"`
	Rejected     int `json:"rejected"`
	Reverted     int `json:"reverted"`

	SyncTimestamp string        `json:"syncTimestamp,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`

	// RetryAfter is set when the cycle was skipped by backoff.
	RetryAfter *time.Time `json:"retryAfter,omitempty"`
}

// runCycle executes one cycle. Only ever called through the single-flight
// group, so at most one runs at a time.
func (o *Orchestrator) runCycle(ctx context.Context, trigger model.Trigger) (result CycleResult, err error) {
	o.enter()
	defer o.exit()

	start := time.Now()
	result = CycleResult{Trigger: trigger, StartedAt: o.clock.Now()}
	defer func() {
		result.Duration = time.Since(start)
		var networked time.Duration
		if result.Submitted > 0 {
			networked = result.Duration
		}
		o.metrics.RecordCycle(string(trigger), string(result.Outcome), networked)

		fields := []zap.Field{
			zap.String("trigger", string(trigger)),
			zap.String("outcome", string(result.Outcome)),
			zap.String("tenant_id", result.TenantID),
			zap.Int("submitted", result.Submitted),
			zap.Int("acknowledged", result.Acknowledged),
			zap.Int("conflicts", result.Conflicts),
			zap.Int("rejected", result.Rejected),
			zap.Int("reverted", result.Reverted),
			zap.Duration("duration", result.Duration),
		}
		if err != nil {
			o.logger.Warn("sync cycle failed", append(fields, zap.Error(err))...)
		} else {
			o.logger.Debug("sync cycle finished", fields...)
		}
	}()

	if !o.conn.IsOnline() {
		result.Outcome = OutcomeOffline
		return result, nil
	}

	tenantID, ok := o.tenants.ActiveTenant()
	if !ok {
		result.Outcome = OutcomeNoTenant
		return result, nil
	}
	result.TenantID = tenantID

	if skip, until := o.backoff.gated(trigger, o.clock.Now()); skip {
		result.Outcome = OutcomeBackoff
		result.RetryAfter = &until
		return result, nil
	}

	pending, err := o.queue.GetPendingEvents(ctx, tenantID)
	if err != nil {
		result.Outcome = OutcomeStorage
		return result, fmt.Errorf("fetch pending events: %w", err)
	}
	if len(pending) == 0 {
		o.metrics.UpdatePending(0)
		result.Outcome = OutcomeNoPending
		return result, nil
	}

	claimed, err := o.queue.Claim(ctx, pending)
	if err != nil {
		result.Outcome = OutcomeStorage
		return result, err
	}
	if len(claimed) == 0 {
		result.Outcome = OutcomeNoPending
		return result, nil
	}
	result.Submitted = len(claimed)

	req, err := o.buildRequest(ctx, tenantID, claimed)
	if err != nil {
		o.revertClaimed(ctx, claimed, &result)
		result.Outcome = OutcomeStorage
		return result, err
	}

	resp, err := o.remote.Submit(ctx, req)
	if err != nil {
		return o.transportFailure(ctx, tenantID, claimed, result, err)
	}

	rec, err := o.reconcile(ctx, tenantID, claimed, resp)
	result.Acknowledged = rec.acknowledged
	result.Conflicts = rec.conflicts
	result.Rejected = rec.rejected
	if err != nil {
		// Whatever was not settled goes back to the queue.
		o.revertClaimed(ctx, claimed, &result)
		o.persistState(ctx, tenantID, "", false, rec.conflicts, err)
		result.Outcome = OutcomeStorage
		return result, fmt.Errorf("reconcile response: %w", err)
	}

	reverted, err := o.queue.RevertToPending(ctx, rec.unmentioned...)
	if err != nil {
		result.Outcome = OutcomeStorage
		return result, err
	}
	result.Reverted = reverted
	o.metrics.RecordEvents(metrics.OutcomeSynced, rec.acknowledged)
	o.metrics.RecordEvents(metrics.OutcomeConflict, rec.conflicts)
	o.metrics.RecordEvents(metrics.OutcomeFailed, rec.rejected)
	o.metrics.RecordEvents(metrics.OutcomeReverted, reverted)

	o.backoff.reset()
	result.SyncTimestamp = resp.SyncTimestamp
	result.Outcome = OutcomeSuccess
	o.persistState(ctx, tenantID, resp.SyncTimestamp, true, rec.conflicts, nil)

	for _, n := range rec.conflictNotices {
		o.notifier.NotifyConflict(n)
	}
	for _, n := range rec.rejectionNotices {
		o.notifier.NotifyRejection(n)
	}

	return result, nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, tenantID string, events []model.OutboxEvent) (model.SyncRequest, error) {
	clientID, err := o.ClientID(ctx)
	if err != nil {
		return model.SyncRequest{}, fmt.Errorf("resolve client id: %w", err)
	}
	state, _, err := o.store.GetSyncState(ctx, tenantID)
	if err != nil {
		return model.SyncRequest{}, err
	}
	return model.SyncRequest{
		ClientID:          clientID,
		Events:            events,
		LastSyncTimestamp: state.LastSyncTimestamp,
	}, nil
}

// transportFailure reverts the whole batch and arms the backoff. Nothing is
// marked FAILED.
func (o *Orchestrator) transportFailure(ctx context.Context, tenantID string, claimed []model.OutboxEvent, result CycleResult, cause error) (CycleResult, error) {
	if !model.IsTransport(cause) {
		cause = model.NewTransportError("submit", cause)
	}

	o.revertClaimed(ctx, claimed, &result)
	o.metrics.RecordEvents(metrics.OutcomeReverted, result.Reverted)

	delay := o.backoff.failure(o.clock.Now())
	o.logger.Info("sync backing off",
		zap.Duration("delay", delay),
		zap.Int("consecutive_failures", o.backoff.consecutiveFailures()),
	)

	o.persistState(ctx, tenantID, "", false, 0, cause)
	result.Outcome = OutcomeTransport
	return result, cause
}

func (o *Orchestrator) revertClaimed(ctx context.Context, claimed []model.OutboxEvent, result *CycleResult) {
	ids := make([]string, len(claimed))
	for i, ev := range claimed {
		ids[i] = ev.ID
	}
	n, err := o.queue.RevertToPending(ctx, ids...)
	if err != nil {
		// Stale claims are reclaimed after the claim timeout anyway.
		o.logger.Error("revert claimed events", zap.Int("count", len(ids)), zap.Error(err))
		return
	}
	result.Reverted = n
}

// persistState records the cycle in sync_state. The row is created by the
// first successful cycle; the sync timestamp only moves forward on success
// and the conflict count is cumulative.
func (o *Orchestrator) persistState(ctx context.Context, tenantID, syncTimestamp string, success bool, conflicts int, cause error) {
	state, found, err := o.store.GetSyncState(ctx, tenantID)
	if err != nil {
		o.logger.Error("load sync state", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if !found && !success {
		return
	}

	counts, err := o.queue.Counts(ctx, tenantID)
	if err != nil {
		o.logger.Error("count outbox events", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}

	now := o.clock.Now()
	state.TenantID = tenantID
	state.LastSyncSuccess = success
	state.PendingEventsCount = counts.Pending
	state.ConflictCount += conflicts
	state.LastAttemptAt = &now
	state.LastError = ""
	if syncTimestamp != "" {
		state.LastSyncTimestamp = syncTimestamp
	}
	if cause != nil {
		state.LastError = cause.Error()
	}

	if err := o.store.PutSyncState(ctx, state); err != nil {
		o.logger.Error("save sync state", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	o.metrics.UpdatePending(counts.Pending)
}
