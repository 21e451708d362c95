package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/model"
)

// timeLayout is fixed-width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalData converts business data to canonical JSON TEXT for storage.
// Envelope keys are stripped; the envelope has its own columns.
func marshalData(data map[string]any) (string, error) {
	out, err := model.MarshalCanonical(model.BusinessData(data))
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(out), nil
}

// unmarshalData parses stored data TEXT. Numbers decode as json.Number to
// avoid float64 precision loss.
func unmarshalData(data string) (map[string]any, error) {
	obj, err := model.DecodeObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}

func marshalMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	out, err := model.MarshalCanonical(md)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(out), nil
}

func unmarshalMetadata(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row selected with recordColumns.
func scanRecord(row scanner) (model.Record, error) {
	var rec model.Record
	var dirty, deleted int
	var lastSync sql.NullString
	var createdAt, updatedAt, dataJSON string

	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Version, &dirty, &deleted,
		&lastSync, &createdAt, &updatedAt, &dataJSON,
	); err != nil {
		return model.Record{}, err
	}

	rec.Dirty = dirty != 0
	rec.Deleted = deleted != 0

	var err error
	if rec.LastSync, err = parseNullTime(lastSync); err != nil {
		return model.Record{}, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Record{}, err
	}
	if rec.Data, err = unmarshalData(dataJSON); err != nil {
		return model.Record{}, err
	}

	return rec, nil
}

const eventColumns = `seq, id, tenant_id, entity_type, entity_id, operation, payload, metadata,
	local_version, status, attempt_count, created_at, last_attempt_at, error_message`

// scanEvent scans a row selected with eventColumns.
func scanEvent(row scanner) (model.OutboxEvent, error) {
	var ev model.OutboxEvent
	var entityType, operation, status, payload, metadata, createdAt string
	var lastAttempt sql.NullString

	if err := row.Scan(
		&ev.Seq, &ev.ID, &ev.TenantID, &entityType, &ev.EntityID, &operation,
		&payload, &metadata, &ev.LocalVersion, &status, &ev.AttemptCount,
		&createdAt, &lastAttempt, &ev.ErrorMessage,
	); err != nil {
		return model.OutboxEvent{}, err
	}

	ev.EntityType = model.EntityType(entityType)
	ev.Operation = model.Operation(operation)
	ev.Status = model.EventStatus(status)
	ev.Payload = json.RawMessage(payload)

	var err error
	if ev.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return model.OutboxEvent{}, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.OutboxEvent{}, err
	}
	if ev.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return model.OutboxEvent{}, err
	}

	return ev, nil
}
