package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/store"
)

type reconciliation struct {
	acknowledged int
	conflicts    int
	rejected     int
	unmentioned  []string

	conflictNotices  []model.ConflictNotice
	rejectionNotices []model.RejectionNotice
}

// entityKey identifies a record across entity types.
type entityKey struct {
	entityType model.EntityType
	id         string
}

// reconcile applies a response. Each item commits in its own transaction
// together with its event's status change, so a crash mid-way leaves every
// event either settled with its record change or still SYNCING (and
// reclaimed later).
func (o *Orchestrator) reconcile(ctx context.Context, tenantID string, claimed []model.OutboxEvent, resp model.SyncResponse) (reconciliation, error) {
	var rec reconciliation

	batch := make(map[string]model.OutboxEvent, len(claimed))
	for _, ev := range claimed {
		batch[ev.ID] = ev
	}
	mentioned := make(map[string]bool, len(claimed))
	// Server-assigned ids, so later items of the same entity find the record.
	renamed := make(map[entityKey]string)
	now := o.clock.Now()

	resolve := func(et model.EntityType, id string) string {
		if newID, ok := renamed[entityKey{et, id}]; ok {
			return newID
		}
		return id
	}

	lookup := func(eventID, kind string) (model.OutboxEvent, bool) {
		ev, ok := batch[eventID]
		if !ok {
			o.logger.Warn("response names event outside the batch",
				zap.String("event_id", eventID), zap.String("kind", kind))
			return model.OutboxEvent{}, false
		}
		if mentioned[eventID] {
			o.logger.Warn("response names event twice",
				zap.String("event_id", eventID), zap.String("kind", kind))
			return model.OutboxEvent{}, false
		}
		mentioned[eventID] = true
		return ev, true
	}

	for _, ack := range resp.Acknowledged {
		ev, ok := lookup(ack.OutboxEventID, "acknowledged")
		if !ok {
			continue
		}
		localID := resolve(ev.EntityType, ev.EntityID)
		serverID := ack.EntityID
		if serverID == "" {
			serverID = localID
		}

		var settled bool
		err := o.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			if settled, err = o.queue.MarkAsSyncedTx(ctx, tx, ev.ID); err != nil || !settled {
				return err
			}
			return o.applyAck(ctx, tx, ev, localID, serverID, now)
		})
		if err != nil {
			return rec, err
		}
		if !settled {
			continue
		}
		if serverID != localID {
			renamed[entityKey{ev.EntityType, ev.EntityID}] = serverID
			renamed[entityKey{ev.EntityType, localID}] = serverID
		}
		rec.acknowledged++
	}

	for _, c := range resp.Conflicts {
		ev, ok := lookup(c.OutboxEventID, "conflict")
		if !ok {
			continue
		}
		entityType := c.EntityType
		if entityType == "" {
			entityType = ev.EntityType
		}
		localID := resolve(entityType, ev.EntityID)

		obj, err := o.decodeConflict(entityType, c.ServerData)
		if err != nil {
			// Settle this item alone; the rest of the response still applies.
			reason := "invalid server data: " + err.Error()
			o.logger.Warn("conflict carries invalid server data",
				zap.String("event_id", ev.ID),
				zap.String("entity_type", string(entityType)),
				zap.String("entity_id", localID),
				zap.Error(err),
			)
			settled, err := o.markFailed(ctx, ev.ID, reason)
			if err != nil {
				return rec, err
			}
			if settled {
				rec.rejected++
				rec.rejectionNotices = append(rec.rejectionNotices, model.RejectionNotice{
					TenantID:   tenantID,
					EventID:    ev.ID,
					EntityType: entityType,
					EntityID:   localID,
					Operation:  ev.Operation,
					Reason:     reason,
				})
			}
			continue
		}

		var settled bool
		var server model.Record
		err = o.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			if settled, err = o.queue.MarkAsSyncedTx(ctx, tx, ev.ID); err != nil || !settled {
				return err
			}
			server, err = o.applyConflict(ctx, tx, tenantID, entityType, localID, obj, now)
			return err
		})
		if err != nil {
			return rec, err
		}
		if !settled {
			continue
		}
		rec.conflicts++
		rec.conflictNotices = append(rec.conflictNotices, model.ConflictNotice{
			TenantID:     tenantID,
			EventID:      ev.ID,
			EntityType:   entityType,
			EntityID:     server.ID,
			LocalVersion: ev.LocalVersion,
			Server:       server,
		})
	}

	for _, r := range resp.Rejected {
		ev, ok := lookup(r.OutboxEventID, "rejected")
		if !ok {
			continue
		}

		settled, err := o.markFailed(ctx, ev.ID, r.Reason)
		if err != nil {
			return rec, err
		}
		if !settled {
			continue
		}
		rec.rejected++
		rec.rejectionNotices = append(rec.rejectionNotices, model.RejectionNotice{
			TenantID:   tenantID,
			EventID:    ev.ID,
			EntityType: ev.EntityType,
			EntityID:   resolve(ev.EntityType, ev.EntityID),
			Operation:  ev.Operation,
			Reason:     r.Reason,
		})
	}

	for _, ev := range claimed {
		if !mentioned[ev.ID] {
			rec.unmentioned = append(rec.unmentioned, ev.ID)
		}
	}
	return rec, nil
}

// applyAck marks the record synced, moving it to serverID first if the
// server assigned a new id. The dirty flag is only cleared when no newer
// local mutation happened since the event was created.
func (o *Orchestrator) applyAck(ctx context.Context, tx *store.Tx, ev model.OutboxEvent, localID, serverID string, now time.Time) error {
	col, err := o.store.Registry().Collection(ev.EntityType)
	if err != nil {
		return model.NewStorageError("acknowledge", ev.EntityType, localID, err)
	}

	record, err := tx.Get(ctx, col, localID)
	if errors.Is(err, model.ErrNotFound) {
		o.logger.Debug("acknowledged record no longer exists",
			zap.String("entity_type", string(ev.EntityType)), zap.String("entity_id", localID))
		return nil
	}
	if err != nil {
		return err
	}

	if serverID != localID {
		if err := tx.Execute(ctx, col, store.OpDelete, record); err != nil {
			return err
		}
		record.ID = serverID
		if _, err := tx.RekeyPendingEvents(ctx, ev.EntityType, localID, serverID); err != nil {
			return err
		}
		o.logger.Info("server reassigned entity id",
			zap.String("entity_type", string(ev.EntityType)),
			zap.String("old_id", localID),
			zap.String("new_id", serverID),
		)
	}

	if record.Version <= ev.LocalVersion {
		record.Dirty = false
	}
	synced := now
	record.LastSync = &synced
	return tx.Execute(ctx, col, store.OpPut, record)
}

func (o *Orchestrator) markFailed(ctx context.Context, eventID, reason string) (bool, error) {
	var settled bool
	err := o.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		settled, err = o.queue.MarkAsFailedTx(ctx, tx, eventID, reason)
		return err
	})
	return settled, err
}

// decodeConflict validates a conflict's server copy before anything is
// written for it.
func (o *Orchestrator) decodeConflict(entityType model.EntityType, serverData []byte) (map[string]any, error) {
	if _, err := o.store.Registry().Collection(entityType); err != nil {
		return nil, err
	}
	obj, err := model.DecodeObject(serverData)
	if err != nil {
		return nil, err
	}
	if _, err := model.RecordFromMap(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// applyConflict replaces the local record with the server's copy in obj. No
// field is merged: the server wins outright, including _version.
func (o *Orchestrator) applyConflict(ctx context.Context, tx *store.Tx, tenantID string, entityType model.EntityType, localID string, obj map[string]any, now time.Time) (model.Record, error) {
	col, err := o.store.Registry().Collection(entityType)
	if err != nil {
		return model.Record{}, model.NewStorageError("resolve conflict", entityType, localID, err)
	}
	server, err := model.RecordFromMap(obj)
	if err != nil {
		return model.Record{}, model.NewStorageError("resolve conflict", entityType, localID, fmt.Errorf("decode server data: %w", err))
	}

	local, err := tx.Get(ctx, col, localID)
	found := err == nil
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.Record{}, err
	}

	if server.ID == "" {
		server.ID = localID
	}
	if server.TenantID == "" {
		server.TenantID = tenantID
	}
	if server.CreatedAt.IsZero() {
		if found {
			server.CreatedAt = local.CreatedAt
		} else {
			server.CreatedAt = now
		}
	}
	if server.UpdatedAt.IsZero() {
		server.UpdatedAt = now
	}
	if _, ok := model.VersionOf(obj); !ok && found {
		server.Version = local.Version
	}
	server.Dirty = false
	synced := now
	server.LastSync = &synced

	if found && server.ID != localID {
		if err := tx.Execute(ctx, col, store.OpDelete, local); err != nil {
			return model.Record{}, err
		}
	}
	if err := tx.Execute(ctx, col, store.OpPut, server); err != nil {
		return model.Record{}, err
	}
	return server, nil
}
