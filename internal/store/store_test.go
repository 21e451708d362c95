package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, model.MustRegistry())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.False(t, os.IsNotExist(err), "database file was not created")
}

func TestOpen_RequiresRegistry(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.Error(t, err)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"), model.MustRegistry())
	require.Error(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, model.MustRegistry())
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path, model.MustRegistry())
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"outbox_events", "sync_state", "client_info", "students", "attendance_records", "invoices"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := t.Context()

	s1, err := Open(path, model.MustRegistry())
	require.NoError(t, err)
	col, err := s1.Registry().Collection(model.EntityStudent)
	require.NoError(t, err)
	require.NoError(t, s1.Execute(ctx, col, OpAdd, createTestRecord("s1", "t1", map[string]any{"name": "Ana"})))
	require.NoError(t, s1.Close())

	s2, err := Open(path, model.MustRegistry())
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get(ctx, col, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.Data["name"])
}

func TestOpen_OnlyRegisteredCollections(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), model.MustRegistry(model.EntityStudent))
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, getTables(t, s.db), "students")
	assert.NotContains(t, getTables(t, s.db), "invoices")
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), model.MustRegistry())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	// Second close on sql.DB returns nil.
	assert.NoError(t, s.Close())
}

func TestPing(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Ping(t.Context()))

	require.NoError(t, s.Close())
	err := s.Ping(t.Context())
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.name, tt.want))
		})
	}
}

func TestSchema_OutboxEventsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "outbox_events")
	for _, col := range []string{
		"seq", "id", "tenant_id", "entity_type", "entity_id", "operation", "payload", "metadata",
		"local_version", "status", "attempt_count", "created_at", "last_attempt_at", "error_message",
	} {
		assert.Contains(t, columns, col)
	}

	indexes := getTableIndexes(t, s.db, "outbox_events")
	for _, idx := range []string{"idx_outbox_status", "idx_outbox_tenant_status", "idx_outbox_created_at", "idx_outbox_entity"} {
		assert.Contains(t, indexes, idx)
	}
}

func TestSchema_CollectionTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "grades")
	assert.ElementsMatch(t, []string{
		"id", "tenant_id", "version", "is_dirty", "deleted", "last_sync", "created_at", "updated_at", "data",
	}, columns)

	indexes := getTableIndexes(t, s.db, "grades")
	assert.Contains(t, indexes, "idx_grades_tenant")
	assert.Contains(t, indexes, "idx_grades_dirty")
	assert.Contains(t, indexes, "idx_grades_last_sync")
}

func TestSchema_OutboxStatusCheck(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO outbox_events (id, tenant_id, entity_type, entity_id, operation, payload, local_version, status, created_at)
		VALUES ('e1', 't1', 'student', 's1', 'CREATE', '{}', 1, 'DONE', '2026-01-01T00:00:00.000000000Z')
	`)
	assert.Error(t, err, "CHECK constraint should reject unknown status")
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, model.MustRegistry())
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_outbox_entity")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	s.Close()

	s, err = Open(path, model.MustRegistry())
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, getTableIndexes(t, s.db, "outbox_events"), "idx_outbox_entity")
}

func getTables(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table'")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	require.NoError(t, err)
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())
	return indexes
}
