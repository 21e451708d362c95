package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation an outbox event carries.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of an outbox event.
//
//	PENDING -> SYNCING -> SYNCED  (terminal)
//	                   -> FAILED  (terminal)
//	                   -> PENDING (transport failure, or not mentioned in response)
type EventStatus string

const (
	StatusPending EventStatus = "PENDING"
	StatusSyncing EventStatus = "SYNCING"
	StatusSynced  EventStatus = "SYNCED"
	StatusFailed  EventStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s EventStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// ParseEventStatus parses a status name.
func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown event status %q", s)
}

// OutboxEvent is one pending (or settled) mutation in the outbox.
type OutboxEvent struct {
	// ID is client-generated and stable; the server uses it as idempotency key.
	ID string `json:"id"`

	// Seq is assigned by the store on insert and defines creation order.
	Seq int64 `json:"-"`

	TenantID   string     `json:"tenantId"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Operation  Operation  `json:"operation"`

	// Payload is the canonical JSON snapshot of the record at creation time.
	// For DELETE it is {"id": EntityID}.
	Payload json.RawMessage `json:"payload"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// LocalVersion is the record's _version after the mutation.
	LocalVersion int64 `json:"localVersion"`

	Status        EventStatus `json:"status"`
	AttemptCount  int         `json:"attemptCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastAttemptAt *time.Time  `json:"lastAttemptAt,omitempty"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
}

// DeletePayload returns the payload carried by DELETE events.
func DeletePayload(entityID string) (json.RawMessage, error) {
	data, err := MarshalCanonical(map[string]any{KeyID: entityID})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// EventCounts summarizes an outbox by status.
type EventCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// SyncState is the per-tenant record of sync progress.
type SyncState struct {
	TenantID           string     `json:"tenantId"`
	LastSyncTimestamp  string     `json:"lastSyncTimestamp,omitempty"`
	LastSyncSuccess    bool       `json:"lastSyncSuccess"`
	PendingEventsCount int        `json:"pendingEventsCount"`
	ConflictCount      int        `json:"conflictCount"`
	LastAttemptAt      *time.Time `json:"lastAttemptAt,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
}
