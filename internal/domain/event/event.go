package event

import (
	"errors"
	"time"
)

// Event is a snapshot value: the engine never mutates a stored Event in place,
// it derives a new snapshot and swaps it in via the store's version-checked write.
type Event struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Capacity        int             `json:"capacity"`
	WaitlistEnabled bool            `json:"waitlistEnabled"`
	Registered      []string        `json:"registeredUsers"`
	Waitlist        []WaitlistEntry `json:"waitlist"`
	// WaitlistSeq is the arrival counter for waitlist entries. Entries keep the
	// seq they were admitted with, so removals never renumber the remainder.
	WaitlistSeq int64     `json:"waitlistSeq"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type WaitlistEntry struct {
	UserID string `json:"userId"`
	Seq    int64  `json:"seq"`
}

var ErrInvalidCapacity = errors.New("event capacity must be greater than zero")
var ErrDuplicate = errors.New("event already exists")
var ErrNotFound = errors.New("event not found")

type CreateEventRequest struct {
	ID              string `json:"eventId" binding:"omitempty,max=120"`
	Name            string `json:"name" binding:"required,min=1,max=200"`
	Capacity        int    `json:"capacity" binding:"required,min=1"`
	WaitlistEnabled bool   `json:"waitlistEnabled"`
}

// Clone deep-copies the membership slices so a derived snapshot never aliases
// the one it was read from.
func (e Event) Clone() Event {
	out := e
	out.Registered = append([]string(nil), e.Registered...)
	out.Waitlist = append([]WaitlistEntry(nil), e.Waitlist...)
	return out
}

func (e Event) IsFull() bool {
	return len(e.Registered) >= e.Capacity
}

func (e Event) IsRegistered(userID string) bool {
	for _, id := range e.Registered {
		if id == userID {
			return true
		}
	}
	return false
}

func (e Event) IsWaitlisted(userID string) bool {
	for _, w := range e.Waitlist {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

// WaitlistPosition returns the 1-based position of userID, or 0 if absent.
func (e Event) WaitlistPosition(userID string) int {
	for i, w := range e.Waitlist {
		if w.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func (e Event) WaitlistUserIDs() []string {
	ids := make([]string, 0, len(e.Waitlist))
	for _, w := range e.Waitlist {
		ids = append(ids, w.UserID)
	}
	return ids
}

// WithRegistered derives a snapshot with userID holding a slot.
func (e Event) WithRegistered(userID string) Event {
	out := e.Clone()
	out.Registered = append(out.Registered, userID)
	return out
}

// WithWaitlisted derives a snapshot with userID appended at the waitlist tail.
func (e Event) WithWaitlisted(userID string) Event {
	out := e.Clone()
	out.WaitlistSeq++
	out.Waitlist = append(out.Waitlist, WaitlistEntry{UserID: userID, Seq: out.WaitlistSeq})
	return out
}

// WithoutRegistered derives a snapshot with userID's slot released.
func (e Event) WithoutRegistered(userID string) Event {
	out := e.Clone()
	kept := out.Registered[:0]
	for _, id := range out.Registered {
		if id != userID {
			kept = append(kept, id)
		}
	}
	out.Registered = kept
	return out
}

// WithoutWaitlisted derives a snapshot with userID removed from the waitlist.
// Relative order of the remaining entries is preserved.
func (e Event) WithoutWaitlisted(userID string) Event {
	out := e.Clone()
	kept := out.Waitlist[:0]
	for _, w := range out.Waitlist {
		if w.UserID != userID {
			kept = append(kept, w)
		}
	}
	out.Waitlist = kept
	return out
}

// PromoteHead moves the waitlist head into the registered set and reports who
// was promoted. Returns the receiver unchanged and "" when the waitlist is empty.
func (e Event) PromoteHead() (Event, string) {
	if len(e.Waitlist) == 0 {
		return e, ""
	}

	out := e.Clone()
	head := out.Waitlist[0]
	out.Waitlist = out.Waitlist[1:]
	out.Registered = append(out.Registered, head.UserID)
	return out, head.UserID
}
