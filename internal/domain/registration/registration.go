package registration

import "errors"

// Status of a (user, event) membership after a successful engine operation.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusWaitlisted Status = "waitlisted"
)

// if you are already registered or waitlisted.
var ErrAlreadyRegistered = errors.New("registration already exists")

// error if event is full and has no waitlist
var ErrEventFull = errors.New("event is full")

var ErrNotRegistered = errors.New("user is not registered or waitlisted for event")

// ErrConcurrencyExhausted means the optimistic-write retry budget ran out.
// It is the only outcome a caller may retry blindly.
var ErrConcurrencyExhausted = errors.New("registration contention: retry budget exhausted")

// Result reports the outcome of a register call. Position is the 1-based
// waitlist position and is zero when Status is StatusRegistered.
type Result struct {
	UserID   string `json:"userId"`
	EventID  string `json:"eventId"`
	Status   Status `json:"status"`
	Position int    `json:"position,omitempty"`
}

// Removal reports the outcome of an unregister call. PromotedUserID is set
// when releasing a slot pulled the waitlist head into the registered set.
type Removal struct {
	UserID         string `json:"userId"`
	EventID        string `json:"eventId"`
	RemovedFrom    Status `json:"removedFrom"`
	PromotedUserID string `json:"promotedUserId,omitempty"`
}
