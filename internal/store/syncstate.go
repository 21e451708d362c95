package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/offsync/internal/model"
)

// clientIDKey is the client_info row holding the persisted client id.
const clientIDKey = "client_id"

// GetSyncState returns the sync state of a tenant. ok is false if no cycle
// has succeeded for the tenant yet.
func (c conn) GetSyncState(ctx context.Context, tenantID string) (st model.SyncState, ok bool, err error) {
	var success int
	var lastAttempt sql.NullString

	err = c.q.QueryRowContext(ctx, `
		SELECT tenant_id, last_sync_timestamp, last_sync_success, pending_events_count,
		       conflict_count, last_attempt_at, last_error
		FROM sync_state WHERE tenant_id = ?
	`, tenantID).Scan(
		&st.TenantID, &st.LastSyncTimestamp, &success, &st.PendingEventsCount,
		&st.ConflictCount, &lastAttempt, &st.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncState{TenantID: tenantID}, false, nil
	}
	if err != nil {
		return model.SyncState{}, false, model.NewStorageError("get sync state", "", tenantID, err)
	}

	st.LastSyncSuccess = success != 0
	if st.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return model.SyncState{}, false, model.NewStorageError("get sync state", "", tenantID, err)
	}
	return st, true, nil
}

// PutSyncState inserts or replaces the sync state of st.TenantID.
func (c conn) PutSyncState(ctx context.Context, st model.SyncState) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO sync_state
		(tenant_id, last_sync_timestamp, last_sync_success, pending_events_count,
		 conflict_count, last_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			last_sync_timestamp = excluded.last_sync_timestamp,
			last_sync_success = excluded.last_sync_success,
			pending_events_count = excluded.pending_events_count,
			conflict_count = excluded.conflict_count,
			last_attempt_at = excluded.last_attempt_at,
			last_error = excluded.last_error
	`,
		st.TenantID,
		st.LastSyncTimestamp,
		boolToInt(st.LastSyncSuccess),
		st.PendingEventsCount,
		st.ConflictCount,
		formatTimePtr(st.LastAttemptAt),
		st.LastError,
	)
	if err != nil {
		return model.NewStorageError("put sync state", "", st.TenantID, err)
	}
	return nil
}

// ClientID returns the persisted client id, generating and storing one
// with gen on first use.
func (s *Store) ClientID(ctx context.Context, gen model.IDGenerator) (string, error) {
	var id string
	err := s.Update(ctx, func(tx *Tx) error {
		err := tx.q.QueryRowContext(ctx, `SELECT value FROM client_info WHERE key = ?`, clientIDKey).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.NewStorageError("client id", "", "", err)
		}

		id = gen.NewID()
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO client_info (key, value) VALUES (?, ?)
		`, clientIDKey, id); err != nil {
			return model.NewStorageError("client id", "", "", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
