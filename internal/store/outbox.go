package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/model"
)

// InsertEvent appends an outbox event and sets ev.Seq.
// A duplicate event id fails with model.ErrDuplicateKey.
func (c conn) InsertEvent(ctx context.Context, ev *model.OutboxEvent) error {
	if !ev.Operation.Valid() {
		return model.NewStorageError("insert event", ev.EntityType, ev.EntityID, fmt.Errorf("invalid operation %q", ev.Operation))
	}

	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return model.NewStorageError("insert event", ev.EntityType, ev.EntityID, err)
	}

	result, err := c.q.ExecContext(ctx, `
		INSERT INTO outbox_events
		(id, tenant_id, entity_type, entity_id, operation, payload, metadata,
		 local_version, status, attempt_count, created_at, last_attempt_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.TenantID,
		string(ev.EntityType),
		ev.EntityID,
		string(ev.Operation),
		string(ev.Payload),
		metadata,
		ev.LocalVersion,
		string(ev.Status),
		ev.AttemptCount,
		formatTime(ev.CreatedAt),
		formatTimePtr(ev.LastAttemptAt),
		ev.ErrorMessage,
	)
	if isUniqueViolation(err) {
		return model.NewStorageError("insert event", ev.EntityType, ev.EntityID, model.ErrDuplicateKey)
	}
	if err != nil {
		return model.NewStorageError("insert event", ev.EntityType, ev.EntityID, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return model.NewStorageError("insert event", ev.EntityType, ev.EntityID, fmt.Errorf("last insert id: %w", err))
	}
	ev.Seq = seq
	return nil
}

// GetEvent retrieves one outbox event by id.
// Returns an error matching model.ErrNotFound if absent.
func (c conn) GetEvent(ctx context.Context, id string) (model.OutboxEvent, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OutboxEvent{}, &model.SyncError{Kind: model.KindStorage, Op: "get event", EventID: id, Err: model.ErrNotFound}
	}
	if err != nil {
		return model.OutboxEvent{}, &model.SyncError{Kind: model.KindStorage, Op: "get event", EventID: id, Err: err}
	}
	return ev, nil
}

// ListEvents returns events with the given status in creation order
// (ORDER BY seq ASC). An empty tenantID matches every tenant; an empty
// status matches every status.
func (c conn) ListEvents(ctx context.Context, tenantID string, status model.EventStatus) ([]model.OutboxEvent, error) {
	var where []string
	var args []any
	if tenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, tenantID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}

	query := `SELECT ` + eventColumns + ` FROM outbox_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("list events", "", "", err)
	}
	defer rows.Close()

	events := []model.OutboxEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, model.NewStorageError("list events", "", "", fmt.Errorf("scan event: %w", err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("list events", "", "", fmt.Errorf("iterate events: %w", err))
	}

	return events, nil
}

// ListEntityEvents returns every event of one entity in creation order.
func (c conn) ListEntityEvents(ctx context.Context, entityType model.EntityType, entityID string) ([]model.OutboxEvent, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM outbox_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY seq ASC
	`, string(entityType), entityID)
	if err != nil {
		return nil, model.NewStorageError("list entity events", entityType, entityID, err)
	}
	defer rows.Close()

	events := []model.OutboxEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, model.NewStorageError("list entity events", entityType, entityID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("list entity events", entityType, entityID, err)
	}
	return events, nil
}

// ClaimEvent moves a PENDING event to SYNCING, increments attempt_count and
// stamps last_attempt_at. Returns false if the event was not PENDING.
func (c conn) ClaimEvent(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := c.q.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = ?, attempt_count = attempt_count + 1, last_attempt_at = ?
		WHERE id = ? AND status = ?
	`, string(model.StatusSyncing), formatTime(now), id, string(model.StatusPending))
	if err != nil {
		return false, &model.SyncError{Kind: model.KindStorage, Op: "claim event", EventID: id, Err: err}
	}
	return affected(result)
}

// TransitionEvent moves an event to status `to` only if its current status
// is one of `from`. errMsg replaces error_message. Returns false if the
// event was not in an allowed source status (or does not exist).
func (c conn) TransitionEvent(ctx context.Context, id string, from []model.EventStatus, to model.EventStatus, errMsg string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition event %s: no source status", id)
	}

	placeholders := make([]string, len(from))
	args := []any{string(to), errMsg, id}
	for i, st := range from {
		if st.Terminal() {
			return false, fmt.Errorf("transition event %s: terminal status %s cannot be a source", id, st)
		}
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	result, err := c.q.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = ?, error_message = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return false, &model.SyncError{Kind: model.KindStorage, Op: "transition event", EventID: id, Err: err}
	}
	return affected(result)
}

// ReclaimSyncing reverts SYNCING events to PENDING. With a non-nil olderThan
// only claims stamped before it are reverted. An empty tenantID matches every
// tenant. Returns the number of reverted events.
func (c conn) ReclaimSyncing(ctx context.Context, tenantID string, olderThan *time.Time) (int64, error) {
	query := `UPDATE outbox_events SET status = ? WHERE status = ?`
	args := []any{string(model.StatusPending), string(model.StatusSyncing)}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	if olderThan != nil {
		query += ` AND (last_attempt_at IS NULL OR last_attempt_at < ?)`
		args = append(args, formatTime(*olderThan))
	}

	result, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, model.NewStorageError("reclaim events", "", "", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStorageError("reclaim events", "", "", err)
	}
	return n, nil
}

// CountEvents summarizes the outbox of tenantID (every tenant if empty).
func (c conn) CountEvents(ctx context.Context, tenantID string) (model.EventCounts, error) {
	query := `SELECT status, COUNT(*) FROM outbox_events`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` GROUP BY status`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return model.EventCounts{}, model.NewStorageError("count events", "", "", err)
	}
	defer rows.Close()

	var counts model.EventCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.EventCounts{}, model.NewStorageError("count events", "", "", err)
		}
		switch model.EventStatus(status) {
		case model.StatusPending:
			counts.Pending = n
		case model.StatusSyncing:
			counts.Syncing = n
		case model.StatusSynced:
			counts.Synced = n
		case model.StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return model.EventCounts{}, model.NewStorageError("count events", "", "", err)
	}
	return counts, nil
}

// RekeyPendingEvents points the non-terminal (PENDING or SYNCING) events of
// an entity at a new id, rewriting the "id" field of their payloads. Used
// when the server assigns a new id to a created record. Returns the number
// of re-keyed events.
func (c conn) RekeyPendingEvents(ctx context.Context, entityType model.EntityType, oldID, newID string) (int, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, payload FROM outbox_events
		WHERE entity_type = ? AND entity_id = ? AND status IN (?, ?)
		ORDER BY seq ASC
	`, string(entityType), oldID, string(model.StatusPending), string(model.StatusSyncing))
	if err != nil {
		return 0, model.NewStorageError("rekey events", entityType, oldID, err)
	}

	type pending struct{ id, payload string }
	var toRekey []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.payload); err != nil {
			rows.Close()
			return 0, model.NewStorageError("rekey events", entityType, oldID, err)
		}
		toRekey = append(toRekey, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, model.NewStorageError("rekey events", entityType, oldID, err)
	}

	for _, p := range toRekey {
		obj, err := model.DecodeObject([]byte(p.payload))
		if err != nil {
			return 0, model.NewStorageError("rekey events", entityType, oldID, err)
		}
		obj[model.KeyID] = newID
		payload, err := model.MarshalCanonical(obj)
		if err != nil {
			return 0, model.NewStorageError("rekey events", entityType, oldID, err)
		}
		if _, err := c.q.ExecContext(ctx, `
			UPDATE outbox_events SET entity_id = ?, payload = ? WHERE id = ?
		`, newID, string(payload), p.id); err != nil {
			return 0, model.NewStorageError("rekey events", entityType, oldID, err)
		}
	}

	return len(toRekey), nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
