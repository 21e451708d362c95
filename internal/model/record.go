package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Envelope keys of the flat JSON form of a Record.
const (
	KeyID        = "id"
	KeyTenantID  = "tenantId"
	KeyVersion   = "_version"
	KeyDirty     = "_isDirty"
	KeyDeleted   = "_deleted"
	KeyLastSync  = "_lastSync"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
)

var envelopeKeys = map[string]bool{
	KeyID:        true,
	KeyTenantID:  true,
	KeyVersion:   true,
	KeyDirty:     true,
	KeyDeleted:   true,
	KeyLastSync:  true,
	KeyCreatedAt: true,
	KeyUpdatedAt: true,
}

// IsEnvelopeKey reports whether key is owned by the envelope rather than
// the business object.
func IsEnvelopeKey(key string) bool { return envelopeKeys[key] }

// Record is the generic envelope wrapping any business object.
//
// INVARIANT: Version increases by exactly 1 per local mutation and only
// decreases through a server-authoritative conflict overwrite.
type Record struct {
	ID        string
	TenantID  string
	Version   int64
	Dirty     bool
	Deleted   bool
	LastSync  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	// Data holds the business fields. Envelope keys are never stored here.
	Data map[string]any
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.LastSync != nil {
		ls := *r.LastSync
		out.LastSync = &ls
	}
	out.Data = cloneValue(r.Data).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return val
	}
}

// BusinessData returns a copy of data without envelope keys.
func BusinessData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if envelopeKeys[k] {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Merge applies a shallow patch to the business data. Envelope keys in the
// patch are ignored.
func (r *Record) Merge(patch map[string]any) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	for k, v := range patch {
		if envelopeKeys[k] {
			continue
		}
		r.Data[k] = cloneValue(v)
	}
}

// Map returns the flat representation: business fields plus envelope keys.
func (r Record) Map() map[string]any {
	m := BusinessData(r.Data)
	m[KeyID] = r.ID
	m[KeyTenantID] = r.TenantID
	m[KeyVersion] = r.Version
	m[KeyDirty] = r.Dirty
	m[KeyDeleted] = r.Deleted
	if r.LastSync != nil {
		m[KeyLastSync] = FormatTime(*r.LastSync)
	} else {
		m[KeyLastSync] = nil
	}
	m[KeyCreatedAt] = FormatTime(r.CreatedAt)
	m[KeyUpdatedAt] = FormatTime(r.UpdatedAt)
	return m
}

// Snapshot returns the canonical JSON of the record, used as outbox payload.
func (r Record) Snapshot() ([]byte, error) {
	data, err := MarshalCanonical(r.Map())
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", r.ID, err)
	}
	return data, nil
}

// MarshalJSON encodes the record in its flat form.
func (r Record) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r.Map())
}

// UnmarshalJSON decodes the flat form.
func (r *Record) UnmarshalJSON(data []byte) error {
	obj, err := DecodeObject(data)
	if err != nil {
		return err
	}
	rec, err := RecordFromMap(obj)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// RecordFromMap builds a Record from its flat form. Missing envelope keys
// keep their zero values.
func RecordFromMap(m map[string]any) (Record, error) {
	var r Record
	var err error

	if r.ID, err = stringField(m, KeyID); err != nil {
		return Record{}, err
	}
	if r.TenantID, err = stringField(m, KeyTenantID); err != nil {
		return Record{}, err
	}
	if v, ok := m[KeyVersion]; ok && v != nil {
		if r.Version, err = toInt64(v); err != nil {
			return Record{}, fmt.Errorf("%s: %w", KeyVersion, err)
		}
	}
	if r.Dirty, err = boolField(m, KeyDirty); err != nil {
		return Record{}, err
	}
	if r.Deleted, err = boolField(m, KeyDeleted); err != nil {
		return Record{}, err
	}
	if r.LastSync, err = timePtrField(m, KeyLastSync); err != nil {
		return Record{}, err
	}
	if ts, err := timePtrField(m, KeyCreatedAt); err != nil {
		return Record{}, err
	} else if ts != nil {
		r.CreatedAt = *ts
	}
	if ts, err := timePtrField(m, KeyUpdatedAt); err != nil {
		return Record{}, err
	} else if ts != nil {
		r.UpdatedAt = *ts
	}

	r.Data = BusinessData(m)
	return r, nil
}

// VersionOf extracts the _version key of a flat object, if present.
func VersionOf(m map[string]any) (int64, bool) {
	v, ok := m[KeyVersion]
	if !ok || v == nil {
		return 0, false
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

func boolField(m map[string]any, key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected bool, got %T", key, v)
	}
	return b, nil
}

func timePtrField(m map[string]any, key string) (*time.Time, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%s: expected timestamp string, got %T", key, v)
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &t, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// FormatTime renders a timestamp the way every persisted and wire field does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a timestamp produced by FormatTime (or any RFC 3339 value).
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
