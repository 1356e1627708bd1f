package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/geocoder89/waitroom/internal/store"
)

// Store keeps everything behind one mutex, with a version counter per event
// standing in for the conditional-write primitive of the durable backends.
// Used by tests and local dev.
type Store struct {
	mu     sync.RWMutex
	users  map[string]user.User
	events map[string]event.Event

	// membership index: kind -> userID -> set of eventIDs
	index map[store.MembershipKind]map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		users:  make(map[string]user.User),
		events: make(map[string]event.Event),
		index: map[store.MembershipKind]map[string]map[string]struct{}{
			store.KindRegistered: {},
			store.KindWaitlisted: {},
		},
	}
}

func (s *Store) CreateUser(_ context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return user.ErrDuplicate
	}

	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateEvent(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return event.ErrDuplicate
	}

	e.Version = 1
	s.events[e.ID] = e.Clone()
	s.reindex(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) CompareAndSwapEvent(_ context.Context, expectedVersion int64, next event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[next.ID]
	if !ok {
		return event.ErrNotFound
	}

	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}

	next = next.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.events[next.ID] = next
	s.reindex(next)
	return nil
}

func (s *Store) EventsByMember(_ context.Context, userID string, kind store.MembershipKind) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]event.Event, 0)
	for eventID := range s.index[kind][userID] {
		if e, ok := s.events[eventID]; ok {
			out = append(out, e.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// reindex rebuilds the membership index entries for one event. Caller holds
// the write lock, so readers never see the event half-indexed.
func (s *Store) reindex(e event.Event) {
	for _, byUser := range s.index {
		for _, eventIDs := range byUser {
			delete(eventIDs, e.ID)
		}
	}

	for _, id := range e.Registered {
		s.addIndex(store.KindRegistered, id, e.ID)
	}
	for _, w := range e.Waitlist {
		s.addIndex(store.KindWaitlisted, w.UserID, e.ID)
	}
}

func (s *Store) addIndex(kind store.MembershipKind, userID, eventID string) {
	byUser := s.index[kind]
	if byUser[userID] == nil {
		byUser[userID] = make(map[string]struct{})
	}
	byUser[userID][eventID] = struct{}{}
}
