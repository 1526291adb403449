// Package syncq queues changed fields for delivery to a remote document store and reconciles them
// with retries, coalescing and head-of-line ordering.
package syncq

import (
	"encoding/json"
	"time"

	"example.com/fitstate/internal/domain"
)

// State is the delivery status of a queue entry.
type State string

const (
	StatePending      State = "pending"
	StateInFlight     State = "in_flight"
	StateAcknowledged State = "acknowledged"
	StateFailed       State = "failed"
	StateAbandoned    State = "abandoned"
)

// Entry is one field value awaiting delivery.
type Entry struct {
	Seq           uint64          `json:"seq"`
	MutationID    string          `json:"mutation_id"`
	Kind          string          `json:"kind"`
	EntityID      string          `json:"entity_id"`
	Field         string          `json:"field"`
	Value         json.RawMessage `json:"value"`
	Lamport       int64           `json:"lamport"`
	DeviceID      string          `json:"device_id"`
	State         State           `json:"state"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// Key identifies the field the entry writes.
func (e Entry) Key() string {
	return domain.FieldKey(e.Kind, e.EntityID, e.Field)
}

// IdempotencyKey is stable across retries of the same write.
func (e Entry) IdempotencyKey() string {
	return e.MutationID + "/" + e.Key()
}

// Delivery builds the remote request for the entry.
func (e Entry) Delivery() Delivery {
	return Delivery{
		IdempotencyKey: e.IdempotencyKey(),
		MutationID:     e.MutationID,
		Kind:           e.Kind,
		EntityID:       e.EntityID,
		Field:          e.Field,
		Value:          e.Value,
		Lamport:        e.Lamport,
		DeviceID:       e.DeviceID,
	}
}

// Delivery is an upsert of one field sent to the remote document store.
type Delivery struct {
	IdempotencyKey string          `json:"idempotency_key"`
	MutationID     string          `json:"mutation_id"`
	Kind           string          `json:"kind"`
	EntityID       string          `json:"entity_id"`
	Field          string          `json:"field"`
	Value          json.RawMessage `json:"value"`
	Lamport        int64           `json:"lamport"`
	DeviceID       string          `json:"device_id"`
}

func entryFromChange(c domain.FieldChange) *Entry {
	return &Entry{
		MutationID: c.MutationID,
		Kind:       c.Kind,
		EntityID:   c.EntityID,
		Field:      c.Field,
		Value:      append(json.RawMessage(nil), c.Value...),
		Lamport:    c.Lamport,
		DeviceID:   c.DeviceID,
		State:      StatePending,
	}
}
