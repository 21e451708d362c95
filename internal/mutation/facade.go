// Package mutation is the only sanctioned write path for business records.
//
// Every Create, Update and Delete writes the record and appends its outbox
// event in one store transaction, then (if online) asks the orchestrator
// for a sync without waiting for it. The caller sees success as soon as the
// local write commits; sync failures are logged, never returned.
//
// Mutations of one entity are serialized, so their outbox events appear in
// call order.
package mutation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/store"
)

// SyncRequester receives the mutation trigger. Implemented by
// syncer.Orchestrator; RequestSync must not block.
type SyncRequester interface {
	RequestSync(trigger model.Trigger)
}

// Connectivity reports whether the network is usable.
// Implemented by netmon.Monitor.
type Connectivity interface {
	IsOnline() bool
}

// Facade performs offline-first mutations.
//
// Thread-safety: safe for concurrent use.
type Facade struct {
	store     *store.Store
	queue     *outbox.Queue
	requester SyncRequester
	conn      Connectivity
	ids       model.IDGenerator
	clock     model.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	metadata  map[string]string

	locks keyedMutex
}

// Option configures a Facade.
type Option func(*Facade)

// WithSyncRequester sets the orchestrator triggered after each mutation.
func WithSyncRequester(r SyncRequester) Option {
	return func(f *Facade) { f.requester = r }
}

// WithConnectivity sets the connectivity source. Without one, no sync is
// requested after mutations.
func WithConnectivity(c Connectivity) Option {
	return func(f *Facade) { f.conn = c }
}

// WithIDGenerator sets the generator for new entity ids. Default: UUIDv4.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(f *Facade) { f.ids = g }
}

// WithClock sets the clock for createdAt/updatedAt.
func WithClock(c model.Clock) Option {
	return func(f *Facade) { f.clock = c }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

// WithEventMetadata attaches metadata to every outbox event.
func WithEventMetadata(md map[string]string) Option {
	return func(f *Facade) { f.metadata = md }
}

// New creates a Facade.
func New(s *store.Store, q *outbox.Queue, opts ...Option) *Facade {
	f := &Facade{
		store:  s,
		queue:  q,
		ids:    model.UUIDv4Generator{},
		clock:  model.SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create stores a new record at version 1 and appends a CREATE event with
// the same snapshot. The id comes from data["id"] if present, otherwise a
// new UUIDv4 is assigned. An existing id fails with model.ErrDuplicateKey.
func (f *Facade) Create(ctx context.Context, tenantID string, entityType model.EntityType, data map[string]any) (model.Record, error) {
	col, err := f.collection("create", tenantID, entityType)
	if err != nil {
		return model.Record{}, err
	}

	id, err := idFrom(data)
	if err != nil {
		return model.Record{}, model.NewStorageError("create", entityType, "", err)
	}
	if id == "" {
		id = f.ids.NewID()
	}

	unlock := f.locks.Lock(lockKey(entityType, id))
	defer unlock()

	now := f.clock.Now()
	rec := model.Record{
		ID:        id,
		TenantID:  tenantID,
		Version:   1,
		Dirty:     true,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      model.BusinessData(data),
	}

	err = f.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Execute(ctx, col, store.OpAdd, rec); err != nil {
			return err
		}
		return f.appendSnapshot(ctx, tx, model.OpCreate, entityType, rec)
	})
	if err != nil {
		return model.Record{}, err
	}

	f.committed(model.OpCreate, entityType, rec)
	return rec, nil
}

// Update merges patch into the record (shallow; envelope keys ignored),
// bumps the version and appends an UPDATE event with the full merged
// record. Absent, soft-deleted and other-tenant records are not found.
func (f *Facade) Update(ctx context.Context, tenantID string, entityType model.EntityType, entityID string, patch map[string]any) (model.Record, error) {
	col, err := f.collection("update", tenantID, entityType)
	if err != nil {
		return model.Record{}, err
	}

	unlock := f.locks.Lock(lockKey(entityType, entityID))
	defer unlock()

	var rec model.Record
	err = f.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		if rec, err = f.current(ctx, tx, col, "update", tenantID, entityID); err != nil {
			return err
		}
		if rec.Deleted {
			return model.NewStorageError("update", entityType, entityID, model.ErrNotFound)
		}

		rec.Merge(patch)
		rec.Version++
		rec.Dirty = true
		rec.UpdatedAt = f.clock.Now()

		if err := tx.Execute(ctx, col, store.OpPut, rec); err != nil {
			return err
		}
		return f.appendSnapshot(ctx, tx, model.OpUpdate, entityType, rec)
	})
	if err != nil {
		return model.Record{}, err
	}

	f.committed(model.OpUpdate, entityType, rec)
	return rec, nil
}

// Delete soft-deletes the record, bumps the version and appends a DELETE
// event carrying only the id. Deleting an already deleted record is a
// no-op: nothing is written and no event is appended.
func (f *Facade) Delete(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (model.Record, error) {
	col, err := f.collection("delete", tenantID, entityType)
	if err != nil {
		return model.Record{}, err
	}

	unlock := f.locks.Lock(lockKey(entityType, entityID))
	defer unlock()

	var rec model.Record
	var changed bool
	err = f.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		if rec, err = f.current(ctx, tx, col, "delete", tenantID, entityID); err != nil {
			return err
		}
		if rec.Deleted {
			return nil
		}

		rec.Deleted = true
		rec.Version++
		rec.Dirty = true
		rec.UpdatedAt = f.clock.Now()

		if err := tx.Execute(ctx, col, store.OpPut, rec); err != nil {
			return err
		}
		payload, err := model.DeletePayload(rec.ID)
		if err != nil {
			return model.NewStorageError("delete", entityType, entityID, err)
		}
		if _, err := f.queue.CreateEventTx(ctx, tx, tenantID, model.OpDelete, entityType, rec.ID,
			payload, f.metadata, outbox.WithLocalVersion(rec.Version)); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return model.Record{}, err
	}

	if changed {
		f.committed(model.OpDelete, entityType, rec)
	}
	return rec, nil
}

// Get returns a record of the tenant, including soft-deleted ones.
func (f *Facade) Get(ctx context.Context, tenantID string, entityType model.EntityType, entityID string) (model.Record, error) {
	col, err := f.collection("get", tenantID, entityType)
	if err != nil {
		return model.Record{}, err
	}
	rec, err := f.store.Get(ctx, col, entityID)
	if err != nil {
		return model.Record{}, err
	}
	if rec.TenantID != tenantID {
		return model.Record{}, model.NewStorageError("get", entityType, entityID, model.ErrNotFound)
	}
	return rec, nil
}

// List returns the tenant's records of one type. Soft-deleted records are
// only included if includeDeleted is set.
func (f *Facade) List(ctx context.Context, tenantID string, entityType model.EntityType, includeDeleted bool) ([]model.Record, error) {
	col, err := f.collection("list", tenantID, entityType)
	if err != nil {
		return nil, err
	}
	records, err := f.store.QueryTenant(ctx, col, tenantID)
	if err != nil {
		return nil, err
	}
	if includeDeleted {
		return records, nil
	}
	live := records[:0]
	for _, r := range records {
		if !r.Deleted {
			live = append(live, r)
		}
	}
	return live, nil
}

func (f *Facade) collection(op, tenantID string, entityType model.EntityType) (model.Collection, error) {
	if tenantID == "" {
		return model.Collection{}, model.NewStorageError(op, entityType, "", errors.New("tenant id is required"))
	}
	col, err := f.store.Registry().Collection(entityType)
	if err != nil {
		return model.Collection{}, model.NewStorageError(op, entityType, "", err)
	}
	return col, nil
}

// current loads the record inside tx, hiding other tenants' records.
func (f *Facade) current(ctx context.Context, tx *store.Tx, col model.Collection, op, tenantID, entityID string) (model.Record, error) {
	rec, err := tx.Get(ctx, col, entityID)
	if err != nil {
		return model.Record{}, err
	}
	if rec.TenantID != tenantID {
		return model.Record{}, model.NewStorageError(op, col.EntityType(), entityID, model.ErrNotFound)
	}
	return rec, nil
}

func (f *Facade) appendSnapshot(ctx context.Context, tx *store.Tx, op model.Operation, entityType model.EntityType, rec model.Record) error {
	payload, err := rec.Snapshot()
	if err != nil {
		return model.NewStorageError(string(op), entityType, rec.ID, err)
	}
	_, err = f.queue.CreateEventTx(ctx, tx, rec.TenantID, op, entityType, rec.ID, payload, f.metadata,
		outbox.WithLocalVersion(rec.Version))
	return err
}

// committed runs after a successful local write.
func (f *Facade) committed(op model.Operation, entityType model.EntityType, rec model.Record) {
	f.metrics.RecordMutation(string(op))
	f.logger.Debug("local mutation committed",
		zap.String("operation", string(op)),
		zap.String("tenant_id", rec.TenantID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", rec.ID),
		zap.Int64("version", rec.Version),
	)

	if f.requester != nil && f.conn != nil && f.conn.IsOnline() {
		f.requester.RequestSync(model.TriggerMutation)
	}
}

func idFrom(data map[string]any) (string, error) {
	v, ok := data[model.KeyID]
	if !ok || v == nil {
		return "", nil
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("id must be a string, got %T", v)
	}
	return id, nil
}

func lockKey(entityType model.EntityType, id string) string {
	return string(entityType) + "/" + id
}
