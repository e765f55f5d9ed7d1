package types

import "github.com/google/uuid"

// EventID identifies one event published onto the real-time stream
// (internal/eventbus), distinct from the fingerprint/network/batch ids
// used to correlate that event's payload.
type EventID string

// NewEventID generates a fresh random event id.
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func (id EventID) String() string {
	return string(id)
}
