package model

import "encoding/json"

// SyncRequest is the batch submitted to the remote sync endpoint.
type SyncRequest struct {
	ClientID          string        `json:"clientId"`
	Events            []OutboxEvent `json:"events"`
	LastSyncTimestamp string        `json:"lastSyncTimestamp,omitempty"`
}

// SyncResponse is the remote endpoint's verdict on a batch.
// Events mentioned in none of the three lists stay pending.
type SyncResponse struct {
	Acknowledged  []Ack       `json:"acknowledged"`
	Conflicts     []Conflict  `json:"conflicts"`
	Rejected      []Rejection `json:"rejected"`
	SyncTimestamp string      `json:"syncTimestamp"`
}

// Ack acknowledges an event. EntityID differs from the event's entity id
// when the server assigned a new id to a created record.
type Ack struct {
	OutboxEventID string `json:"outboxEventId"`
	EntityID      string `json:"entityId"`
}

// Conflict carries the authoritative server copy of an entity.
type Conflict struct {
	OutboxEventID string          `json:"outboxEventId"`
	EntityType    EntityType      `json:"entityType"`
	ServerData    json.RawMessage `json:"serverData"`
}

// Rejection permanently refuses an event.
type Rejection struct {
	OutboxEventID string `json:"outboxEventId"`
	Reason        string `json:"reason"`
}

// ConflictNotice is emitted after a conflict was resolved server-wins.
type ConflictNotice struct {
	TenantID     string
	EventID      string
	EntityType   EntityType
	EntityID     string
	LocalVersion int64
	Server       Record
}

// RejectionNotice is emitted when an event is marked FAILED. It is the only
// outcome that needs manual correction by the user.
type RejectionNotice struct {
	TenantID   string
	EventID    string
	EntityType EntityType
	EntityID   string
	Operation  Operation
	Reason     string
}
