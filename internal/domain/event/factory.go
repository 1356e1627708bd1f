package event

import (
	"time"

	"github.com/google/uuid"
)

// NewFromCreateRequest builds an Event with empty membership sets.
// Capacity and waitlist policy are fixed here for the lifetime of the event.
func NewFromCreateRequest(req CreateEventRequest) (Event, error) {
	if req.Capacity <= 0 {
		return Event{}, ErrInvalidCapacity
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()

	return Event{
		ID:              id,
		Name:            req.Name,
		Capacity:        req.Capacity,
		WaitlistEnabled: req.WaitlistEnabled,
		Registered:      []string{},
		Waitlist:        []WaitlistEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
