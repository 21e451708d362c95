package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/offsync/internal/model"
)

// Op is a write operation on a collection.
type Op string

const (
	// OpAdd inserts a record and fails with model.ErrDuplicateKey if the id exists.
	OpAdd Op = "add"
	// OpPut inserts or replaces a record.
	OpPut Op = "put"
	// OpDelete removes a record by id; absent ids are ignored.
	OpDelete Op = "delete"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every data operation. Store embeds it over the database and
// Tx embeds it over a transaction, so both expose the same methods.
type conn struct {
	q querier
}

const recordColumns = `id, tenant_id, version, is_dirty, deleted, last_sync, created_at, updated_at, data`

// Query returns every record of a collection.
// Results are ordered deterministically: ORDER BY created_at ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the collection is empty.
func (c conn) Query(ctx context.Context, col model.Collection) ([]model.Record, error) {
	return c.queryRecords(ctx, col, fmt.Sprintf(`
		SELECT %s FROM %s
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, recordColumns, col.Name()))
}

// QueryTenant returns every record of a collection owned by tenantID.
func (c conn) QueryTenant(ctx context.Context, col model.Collection, tenantID string) ([]model.Record, error) {
	return c.queryRecords(ctx, col, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, recordColumns, col.Name()), tenantID)
}

// QueryDirty returns the records of tenantID with unacknowledged local changes.
// Served by the (tenant_id, is_dirty) index.
func (c conn) QueryDirty(ctx context.Context, col model.Collection, tenantID string) ([]model.Record, error) {
	return c.queryRecords(ctx, col, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE tenant_id = ? AND is_dirty = 1
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, recordColumns, col.Name()), tenantID)
}

func (c conn) queryRecords(ctx context.Context, col model.Collection, query string, args ...any) ([]model.Record, error) {
	if col.IsZero() {
		return nil, model.NewStorageError("query", "", "", errors.New("unresolved collection"))
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError("query", col.EntityType(), "", err)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, model.NewStorageError("query", col.EntityType(), "", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError("query", col.EntityType(), "", fmt.Errorf("iterate records: %w", err))
	}

	return records, nil
}

// Get retrieves a single record by id.
// Returns an error matching model.ErrNotFound if absent.
func (c conn) Get(ctx context.Context, col model.Collection, id string) (model.Record, error) {
	if col.IsZero() {
		return model.Record{}, model.NewStorageError("get", "", id, errors.New("unresolved collection"))
	}

	row := c.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = ?
	`, recordColumns, col.Name()), id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, model.NewStorageError("get", col.EntityType(), id, model.ErrNotFound)
	}
	if err != nil {
		return model.Record{}, model.NewStorageError("get", col.EntityType(), id, err)
	}
	return rec, nil
}

// Execute applies op to rec in the collection.
//   - OpAdd fails with model.ErrDuplicateKey if rec.ID exists
//   - OpPut upserts
//   - OpDelete removes rec.ID and succeeds silently if absent
func (c conn) Execute(ctx context.Context, col model.Collection, op Op, rec model.Record) error {
	if col.IsZero() {
		return model.NewStorageError(string(op), "", rec.ID, errors.New("unresolved collection"))
	}
	if rec.ID == "" {
		return model.NewStorageError(string(op), col.EntityType(), "", errors.New("record id is required"))
	}

	switch op {
	case OpAdd:
		return c.writeRecord(ctx, col, op, "INSERT INTO", rec)
	case OpPut:
		return c.writeRecord(ctx, col, op, "INSERT OR REPLACE INTO", rec)
	case OpDelete:
		_, err := c.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, col.Name()), rec.ID)
		if err != nil {
			return model.NewStorageError(string(op), col.EntityType(), rec.ID, err)
		}
		return nil
	default:
		return model.NewStorageError(string(op), col.EntityType(), rec.ID, fmt.Errorf("unknown operation %q", op))
	}
}

func (c conn) writeRecord(ctx context.Context, col model.Collection, op Op, verb string, rec model.Record) error {
	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return model.NewStorageError(string(op), col.EntityType(), rec.ID, err)
	}

	_, err = c.q.ExecContext(ctx, fmt.Sprintf(`
		%s %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, verb, col.Name(), recordColumns),
		rec.ID,
		rec.TenantID,
		rec.Version,
		boolToInt(rec.Dirty),
		boolToInt(rec.Deleted),
		formatTimePtr(rec.LastSync),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		dataJSON,
	)
	if isUniqueViolation(err) {
		return model.NewStorageError(string(op), col.EntityType(), rec.ID, model.ErrDuplicateKey)
	}
	if err != nil {
		return model.NewStorageError(string(op), col.EntityType(), rec.ID, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PRIMARY KEY or UNIQUE failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}
