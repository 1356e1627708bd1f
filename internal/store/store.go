package store

import (
	"context"
	"errors"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/user"
)

// ErrVersionConflict is returned by CompareAndSwapEvent when the committed
// snapshot moved past the expected version. Callers re-read and retry.
var ErrVersionConflict = errors.New("event version conflict")

type MembershipKind string

const (
	KindRegistered MembershipKind = "registered"
	KindWaitlisted MembershipKind = "waitlisted"
)

// Store is the persistence contract the engine runs on. Any backend with a
// conditional-write primitive (version column, WATCH/MULTI, plain mutex)
// can satisfy it.
//
// CompareAndSwapEvent must apply the event snapshot and its membership index
// in one atomic step: no reader may ever observe a half-applied promotion.
type Store interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, id string) (user.User, error)

	CreateEvent(ctx context.Context, e event.Event) error
	GetEvent(ctx context.Context, id string) (event.Event, error)

	// CompareAndSwapEvent commits next (identified by next.ID) only if the
	// stored version still equals expectedVersion; the committed snapshot
	// carries expectedVersion+1. Fails ErrVersionConflict otherwise, and
	// event.ErrNotFound if the event was never created.
	CompareAndSwapEvent(ctx context.Context, expectedVersion int64, next event.Event) error

	// EventsByMember lists events where userID holds the given membership,
	// backed by an index rather than a scan over all events.
	EventsByMember(ctx context.Context, userID string, kind MembershipKind) ([]event.Event, error)

	Ping(ctx context.Context) error
}
