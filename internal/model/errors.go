package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrNotFound indicates the record does not exist in the collection.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates an add of an id that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownEntityType indicates an entity type missing from the registry.
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// ErrorKind categorizes sync engine errors.
type ErrorKind string

const (
	// KindStorage covers local persistence failures: missing records,
	// constraint violations, an unavailable database. Surfaced to callers.
	KindStorage ErrorKind = "STORAGE"

	// KindTransport covers network failures and timeouts during a sync
	// cycle. Handled inside the orchestrator; never surfaced to callers.
	KindTransport ErrorKind = "TRANSPORT"

	// KindConflict reports a server-side divergent version. Resolved by
	// server-wins overwrite and reported as a notification.
	KindConflict ErrorKind = "CONFLICT"

	// KindRejection reports a permanent server-side rejection of an event.
	KindRejection ErrorKind = "REJECTED"
)

// SyncError is the structured error type of the sync engine.
type SyncError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op names the failing operation (e.g. "update", "sync").
	Op string

	// EntityType and EntityID identify the affected record, when known.
	EntityType EntityType
	EntityID   string

	// EventID identifies the affected outbox event, when known.
	EventID string

	// Reason is a human-readable explanation supplied by the server or engine.
	Reason string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.EntityType != "" || e.EntityID != "" {
		fmt.Fprintf(&b, " %s/%s", e.EntityType, e.EntityID)
	}
	if e.EventID != "" {
		fmt.Fprintf(&b, " (event=%s)", e.EventID)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a local persistence failure.
func NewStorageError(op string, entityType EntityType, entityID string, err error) *SyncError {
	return &SyncError{Kind: KindStorage, Op: op, EntityType: entityType, EntityID: entityID, Err: err}
}

// NewTransportError wraps a network failure of a sync request.
func NewTransportError(op string, err error) *SyncError {
	return &SyncError{Kind: KindTransport, Op: op, Err: err}
}

// NewConflictError describes a conflict resolved in favour of the server.
func NewConflictError(eventID string, entityType EntityType, entityID string) *SyncError {
	return &SyncError{
		Kind:       KindConflict,
		Op:         "sync",
		EntityType: entityType,
		EntityID:   entityID,
		EventID:    eventID,
		Reason:     "server version replaced local changes",
	}
}

// NewRejectionError describes an event permanently rejected by the server.
func NewRejectionError(eventID string, entityType EntityType, entityID, reason string) *SyncError {
	return &SyncError{
		Kind:       KindRejection,
		Op:         "sync",
		EntityType: entityType,
		EntityID:   entityID,
		EventID:    eventID,
		Reason:     reason,
	}
}

func isKind(err error, kind ErrorKind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsStorage reports whether err is a storage error.
// ErrNotFound and ErrDuplicateKey count as storage errors even unwrapped.
func IsStorage(err error) bool {
	return isKind(err, KindStorage) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey)
}

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsConflict reports whether err describes a resolved conflict.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsRejection reports whether err describes a permanent rejection.
func IsRejection(err error) bool { return isKind(err, KindRejection) }
