package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, model.MustRegistry())
	require.NoError(t, err, "Open() failed")
	t.Cleanup(func() { s.Close() })
	return s
}

func testCollection(t *testing.T, s *Store, et model.EntityType) model.Collection {
	t.Helper()
	col, err := s.Registry().Collection(et)
	require.NoError(t, err)
	return col
}

// createTestRecord creates a dirty version-1 record.
func createTestRecord(id, tenantID string, data map[string]any) model.Record {
	return model.Record{
		ID:        id,
		TenantID:  tenantID,
		Version:   1,
		Dirty:     true,
		CreatedAt: testTime,
		UpdatedAt: testTime,
		Data:      data,
	}
}

// createTestEvent creates a PENDING event with a minimal payload.
func createTestEvent(id, tenantID string, et model.EntityType, entityID string, op model.Operation) model.OutboxEvent {
	return model.OutboxEvent{
		ID:           id,
		TenantID:     tenantID,
		EntityType:   et,
		EntityID:     entityID,
		Operation:    op,
		Payload:      json.RawMessage(`{"id":"` + entityID + `"}`),
		LocalVersion: 1,
		Status:       model.StatusPending,
		CreatedAt:    testTime,
	}
}

func insertTestEvents(t *testing.T, s *Store, events ...model.OutboxEvent) {
	t.Helper()
	for i := range events {
		require.NoError(t, s.InsertEvent(t.Context(), &events[i]))
	}
}
