// Package outbox implements the write-ahead queue of pending mutations.
//
// Every local mutation appends one event; the sync orchestrator drains
// PENDING events in creation order, claims them (SYNCING) for the duration
// of a cycle and settles each one as SYNCED, FAILED or back to PENDING.
//
//	PENDING -> SYNCING -> SYNCED  (terminal)
//	                   -> FAILED  (terminal)
//	                   -> PENDING (transport failure, unmentioned, stale claim)
//
// Terminal statuses are enforced by the store: every transition is a guarded
// UPDATE that only matches rows in an allowed source status.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

// DefaultClaimTimeout is how long a SYNCING claim may be held before the
// event is considered abandoned and reverted to PENDING.
const DefaultClaimTimeout = 10 * time.Minute

// ErrInvalidTransition indicates a status change the lifecycle forbids,
// e.g. leaving a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Queue is the outbox of one local database.
//
// Thread-safety: safe for concurrent use; every operation is a single
// statement or transaction on the store.
type Queue struct {
	store        *store.Store
	clock        model.Clock
	ids          model.IDGenerator
	logger       *zap.Logger
	claimTimeout time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for createdAt and claim timestamps.
func WithClock(c model.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDGenerator sets the event id generator. Default: UUIDv4.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClaimTimeout sets the stale-claim timeout.
// Default: 10 minutes (DefaultClaimTimeout). Non-positive values are ignored.
func WithClaimTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.claimTimeout = d
		}
	}
}

// New creates a Queue over the given store.
func New(s *store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:        s,
		clock:        model.SystemClock{},
		ids:          model.UUIDv4Generator{},
		logger:       zap.NewNop(),
		claimTimeout: DefaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ClaimTimeout returns the configured stale-claim timeout.
func (q *Queue) ClaimTimeout() time.Duration {
	return q.claimTimeout
}

// CreateEvent appends a PENDING event and returns its id.
func (q *Queue) CreateEvent(
	ctx context.Context,
	tenantID string,
	op model.Operation,
	entityType model.EntityType,
	entityID string,
	payload json.RawMessage,
	metadata map[string]string,
	opts ...EventOption,
) (string, error) {
	var id string
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		id, err = q.CreateEventTx(ctx, tx, tenantID, op, entityType, entityID, payload, metadata, opts...)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateEventTx appends a PENDING event inside an existing transaction, so
// the event commits or rolls back together with the record write.
func (q *Queue) CreateEventTx(
	ctx context.Context,
	tx *store.Tx,
	tenantID string,
	op model.Operation,
	entityType model.EntityType,
	entityID string,
	payload json.RawMessage,
	metadata map[string]string,
	opts ...EventOption,
) (string, error) {
	if err := q.validate(tenantID, op, entityType, entityID); err != nil {
		return "", err
	}

	ev := model.OutboxEvent{
		ID:           q.ids.NewID(),
		TenantID:     tenantID,
		EntityType:   entityType,
		EntityID:     entityID,
		Operation:    op,
		Payload:      payload,
		Metadata:     metadata,
		LocalVersion: localVersion(payload),
		Status:       model.StatusPending,
		CreatedAt:    q.clock.Now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	if err := tx.InsertEvent(ctx, &ev); err != nil {
		return "", err
	}

	q.logger.Debug("outbox event created",
		zap.String("event_id", ev.ID),
		zap.String("tenant_id", tenantID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.String("operation", string(op)),
		zap.Int64("seq", ev.Seq),
	)
	return ev.ID, nil
}

func (q *Queue) validate(tenantID string, op model.Operation, entityType model.EntityType, entityID string) error {
	switch {
	case tenantID == "":
		return model.NewStorageError("create event", entityType, entityID, errors.New("tenant id is required"))
	case entityID == "":
		return model.NewStorageError("create event", entityType, "", errors.New("entity id is required"))
	case !op.Valid():
		return model.NewStorageError("create event", entityType, entityID, fmt.Errorf("invalid operation %q", op))
	}
	if _, err := q.store.Registry().Collection(entityType); err != nil {
		return model.NewStorageError("create event", entityType, entityID, err)
	}
	return nil
}

// EventOption adjusts an event before it is appended.
type EventOption func(*model.OutboxEvent)

// WithLocalVersion sets the event's local version explicitly. Needed for
// DELETE events, whose payload carries only the id.
func WithLocalVersion(v int64) EventOption {
	return func(ev *model.OutboxEvent) { ev.LocalVersion = v }
}

// localVersion extracts _version from a record snapshot; 0 if absent.
func localVersion(payload json.RawMessage) int64 {
	obj, err := model.DecodeObject(payload)
	if err != nil {
		return 0
	}
	v, _ := model.VersionOf(obj)
	return v
}

// GetPendingEvents returns the PENDING events of a tenant in creation order.
// SYNCING claims older than the claim timeout are reverted to PENDING first,
// so events abandoned by a crashed or hung cycle are retried.
func (q *Queue) GetPendingEvents(ctx context.Context, tenantID string) ([]model.OutboxEvent, error) {
	cutoff := q.clock.Now().Add(-q.claimTimeout)
	n, err := q.store.ReclaimSyncing(ctx, tenantID, &cutoff)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale claims: %w", err)
	}
	if n > 0 {
		q.logger.Warn("reclaimed stale outbox claims",
			zap.String("tenant_id", tenantID),
			zap.Int64("count", n),
			zap.Duration("claim_timeout", q.claimTimeout),
		)
	}

	return q.store.ListEvents(ctx, tenantID, model.StatusPending)
}

// Claim moves the given PENDING events to SYNCING in one transaction and
// returns the ones actually claimed, in input order, with their updated
// attempt fields. Events no longer PENDING are skipped.
func (q *Queue) Claim(ctx context.Context, events []model.OutboxEvent) ([]model.OutboxEvent, error) {
	now := q.clock.Now()
	claimed := make([]model.OutboxEvent, 0, len(events))

	err := q.store.Update(ctx, func(tx *store.Tx) error {
		for _, ev := range events {
			ok, err := tx.ClaimEvent(ctx, ev.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				q.logger.Debug("outbox event not claimable", zap.String("event_id", ev.ID))
				continue
			}
			ev.Status = model.StatusSyncing
			ev.AttemptCount++
			at := now
			ev.LastAttemptAt = &at
			claimed = append(claimed, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	return claimed, nil
}

// MarkAsSyncing claims a single PENDING event.
func (q *Queue) MarkAsSyncing(ctx context.Context, id string) error {
	ok, err := q.store.ClaimEvent(ctx, id, q.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return q.transitionError(ctx, id, model.StatusSyncing)
	}
	return nil
}

// MarkAsSynced settles a SYNCING event as SYNCED.
func (q *Queue) MarkAsSynced(ctx context.Context, id string) error {
	return q.settle(ctx, id, model.StatusSynced, "")
}

// MarkAsFailed settles a SYNCING event as FAILED with the server's reason.
// FAILED events are never retried.
func (q *Queue) MarkAsFailed(ctx context.Context, id, reason string) error {
	return q.settle(ctx, id, model.StatusFailed, reason)
}

func (q *Queue) settle(ctx context.Context, id string, to model.EventStatus, reason string) error {
	ok, err := q.store.TransitionEvent(ctx, id, []model.EventStatus{model.StatusSyncing}, to, reason)
	if err != nil {
		return err
	}
	if !ok {
		return q.transitionError(ctx, id, to)
	}
	return nil
}

// MarkAsSyncedTx settles a SYNCING event as SYNCED inside a transaction.
// Returns false, without error, if the event was not SYNCING.
func (q *Queue) MarkAsSyncedTx(ctx context.Context, tx *store.Tx, id string) (bool, error) {
	return tx.TransitionEvent(ctx, id, []model.EventStatus{model.StatusSyncing}, model.StatusSynced, "")
}

// MarkAsFailedTx settles a SYNCING event as FAILED inside a transaction.
// Returns false, without error, if the event was not SYNCING.
func (q *Queue) MarkAsFailedTx(ctx context.Context, tx *store.Tx, id, reason string) (bool, error) {
	return tx.TransitionEvent(ctx, id, []model.EventStatus{model.StatusSyncing}, model.StatusFailed, reason)
}

// RevertToPending moves SYNCING events back to PENDING. Events in any other
// status are left alone. Returns the number of reverted events.
func (q *Queue) RevertToPending(ctx context.Context, ids ...string) (int, error) {
	reverted := 0
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			ok, err := tx.TransitionEvent(ctx, id, []model.EventStatus{model.StatusSyncing}, model.StatusPending, "")
			if err != nil {
				return err
			}
			if ok {
				reverted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revert events: %w", err)
	}
	return reverted, nil
}

// Recover reverts every SYNCING event to PENDING. Call once at process
// start: no cycle can be in flight in a fresh process.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	n, err := q.store.ReclaimSyncing(ctx, "", nil)
	if err != nil {
		return 0, fmt.Errorf("recover outbox: %w", err)
	}
	if n > 0 {
		q.logger.Info("recovered interrupted outbox claims", zap.Int64("count", n))
	}
	return n, nil
}

// Counts summarizes the outbox of a tenant (every tenant if empty).
func (q *Queue) Counts(ctx context.Context, tenantID string) (model.EventCounts, error) {
	return q.store.CountEvents(ctx, tenantID)
}

// List returns events by tenant and status in creation order. Empty values
// match everything.
func (q *Queue) List(ctx context.Context, tenantID string, status model.EventStatus) ([]model.OutboxEvent, error) {
	return q.store.ListEvents(ctx, tenantID, status)
}

// Get returns one event by id.
func (q *Queue) Get(ctx context.Context, id string) (model.OutboxEvent, error) {
	return q.store.GetEvent(ctx, id)
}

// transitionError explains why a guarded transition matched no row.
func (q *Queue) transitionError(ctx context.Context, id string, to model.EventStatus) error {
	ev, err := q.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	return &model.SyncError{
		Kind:       model.KindStorage,
		Op:         "mark " + string(to),
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		EventID:    id,
		Reason:     fmt.Sprintf("event is %s", ev.Status),
		Err:        ErrInvalidTransition,
	}
}
