package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/registration"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/geocoder89/waitroom/internal/engine"
	"github.com/geocoder89/waitroom/internal/store"
	"github.com/geocoder89/waitroom/internal/store/memory"
)

func newTestEngine(st store.Store, maxAttempts int) *engine.Engine {
	return engine.New(engine.Config{
		MaxAttempts: maxAttempts,
		Backoff:     func(int) time.Duration { return 0 },
	}, st, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func mustUser(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	if _, err := eng.CreateUser(context.Background(), id, "name-"+id); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func mustEvent(t *testing.T, eng *engine.Engine, id string, capacity int, waitlist bool) {
	t.Helper()
	_, err := eng.CreateEvent(context.Background(), event.CreateEventRequest{
		ID:              id,
		Name:            "event-" + id,
		Capacity:        capacity,
		WaitlistEnabled: waitlist,
	})
	if err != nil {
		t.Fatalf("create event %s: %v", id, err)
	}
}

func TestCreateUserRoundTrip(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	created, err := eng.CreateUser(ctx, "u-1", "Ada")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fetched, err := eng.GetUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if fetched.ID != created.ID || fetched.Name != created.Name {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", fetched, created)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustUser(t, eng, "u-1")

	_, err := eng.CreateUser(ctx, "u-1", "Other Name")
	if !errors.Is(err, user.ErrDuplicate) {
		t.Fatalf("got err %v, want ErrDuplicate", err)
	}
}

func TestCreateUserInvalidInput(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)

	_, err := eng.CreateUser(context.Background(), " ", "Ada")
	if !errors.Is(err, user.ErrInvalidInput) {
		t.Fatalf("got err %v, want ErrInvalidInput", err)
	}
}

func TestCreateEventDuplicate(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)

	mustEvent(t, eng, "ev-1", 3, false)

	_, err := eng.CreateEvent(context.Background(), event.CreateEventRequest{
		ID: "ev-1", Name: "again", Capacity: 3,
	})
	if !errors.Is(err, event.ErrDuplicate) {
		t.Fatalf("got err %v, want ErrDuplicate", err)
	}
}

func TestRegisterUnknownEntities(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustUser(t, eng, "u-1")
	mustEvent(t, eng, "ev-1", 1, false)

	if _, err := eng.Register(ctx, "ghost", "ev-1"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("got err %v, want user.ErrNotFound", err)
	}

	if _, err := eng.Register(ctx, "u-1", "ghost"); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("got err %v, want event.ErrNotFound", err)
	}
}

func TestCapacityCeiling(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	const capacity = 3
	mustEvent(t, eng, "ev-1", capacity, false)

	ids := []string{"u-1", "u-2", "u-3", "u-4"}
	for _, id := range ids {
		mustUser(t, eng, id)
	}

	for _, id := range ids[:capacity] {
		res, err := eng.Register(ctx, id, "ev-1")
		if err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if res.Status != registration.StatusRegistered {
			t.Fatalf("got status %s, want registered", res.Status)
		}
	}

	regs, err := eng.EventRegistrations(ctx, "ev-1")
	if err != nil {
		t.Fatalf("event registrations: %v", err)
	}
	if len(regs) != capacity {
		t.Fatalf("got %d registered, want %d", len(regs), capacity)
	}

	_, err = eng.Register(ctx, "u-4", "ev-1")
	if !errors.Is(err, registration.ErrEventFull) {
		t.Fatalf("got err %v, want ErrEventFull", err)
	}
}

func TestWaitlistAdmissionAtTail(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-1", 1, true)
	for _, id := range []string{"u-1", "u-2", "u-3"} {
		mustUser(t, eng, id)
	}

	if _, err := eng.Register(ctx, "u-1", "ev-1"); err != nil {
		t.Fatalf("register u-1: %v", err)
	}

	res, err := eng.Register(ctx, "u-2", "ev-1")
	if err != nil {
		t.Fatalf("register u-2: %v", err)
	}
	if res.Status != registration.StatusWaitlisted || res.Position != 1 {
		t.Fatalf("got %+v, want waitlisted at position 1", res)
	}

	res, err = eng.Register(ctx, "u-3", "ev-1")
	if err != nil {
		t.Fatalf("register u-3: %v", err)
	}
	if res.Status != registration.StatusWaitlisted || res.Position != 2 {
		t.Fatalf("got %+v, want waitlisted at position 2", res)
	}

	e, err := eng.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got := e.WaitlistUserIDs(); got[len(got)-1] != "u-3" {
		t.Fatalf("u-3 should be at the tail, waitlist=%v", got)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-1", 1, true)
	mustUser(t, eng, "u-1")
	mustUser(t, eng, "u-2")

	if _, err := eng.Register(ctx, "u-1", "ev-1"); err != nil {
		t.Fatalf("first register: %v", err)
	}

	// second attempt while holding a slot
	if _, err := eng.Register(ctx, "u-1", "ev-1"); !errors.Is(err, registration.ErrAlreadyRegistered) {
		t.Fatalf("got err %v, want ErrAlreadyRegistered", err)
	}

	// second attempt while waitlisted
	if _, err := eng.Register(ctx, "u-2", "ev-1"); err != nil {
		t.Fatalf("waitlist u-2: %v", err)
	}
	if _, err := eng.Register(ctx, "u-2", "ev-1"); !errors.Is(err, registration.ErrAlreadyRegistered) {
		t.Fatalf("got err %v, want ErrAlreadyRegistered for waitlisted user", err)
	}
}

func TestFIFOPromotion(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-1", 2, true)
	for _, id := range []string{"a", "b", "u1", "u2", "u3"} {
		mustUser(t, eng, id)
	}

	for _, id := range []string{"a", "b", "u1", "u2", "u3"} {
		if _, err := eng.Register(ctx, id, "ev-1"); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	rem, err := eng.Unregister(ctx, "a", "ev-1")
	if err != nil {
		t.Fatalf("unregister a: %v", err)
	}

	if rem.RemovedFrom != registration.StatusRegistered {
		t.Fatalf("got removed-from %s, want registered", rem.RemovedFrom)
	}
	if rem.PromotedUserID != "u1" {
		t.Fatalf("got promoted %q, want u1", rem.PromotedUserID)
	}

	e, err := eng.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}

	if !e.IsRegistered("u1") {
		t.Fatalf("u1 should hold a slot after promotion")
	}
	if got := e.WaitlistUserIDs(); len(got) != 2 || got[0] != "u2" || got[1] != "u3" {
		t.Fatalf("got waitlist %v, want [u2 u3]", got)
	}
}

func TestUnregisterWaitlistedNoPromotion(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-1", 1, true)
	for _, id := range []string{"a", "u1", "u2"} {
		mustUser(t, eng, id)
		if _, err := eng.Register(ctx, id, "ev-1"); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	rem, err := eng.Unregister(ctx, "u1", "ev-1")
	if err != nil {
		t.Fatalf("unregister u1: %v", err)
	}

	if rem.RemovedFrom != registration.StatusWaitlisted || rem.PromotedUserID != "" {
		t.Fatalf("waitlist removal must not promote anyone, got %+v", rem)
	}

	e, _ := eng.GetEvent(ctx, "ev-1")
	if got := e.WaitlistUserIDs(); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("got waitlist %v, want [u2]", got)
	}
	if !e.IsRegistered("a") {
		t.Fatalf("registered set must be untouched")
	}
}

func TestUnregisterNotAMember(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-1", 1, false)

	if _, err := eng.Unregister(ctx, "ghost", "ev-1"); !errors.Is(err, registration.ErrNotRegistered) {
		t.Fatalf("got err %v, want ErrNotRegistered", err)
	}

	if _, err := eng.Unregister(ctx, "ghost", "no-such-event"); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("got err %v, want event.ErrNotFound", err)
	}
}

func TestQueryProjections(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "ev-full", 1, true)
	mustEvent(t, eng, "ev-open", 2, false)
	mustUser(t, eng, "holder")
	mustUser(t, eng, "waiter")

	if _, err := eng.Register(ctx, "holder", "ev-full"); err != nil {
		t.Fatalf("register holder: %v", err)
	}
	if _, err := eng.Register(ctx, "waiter", "ev-full"); err != nil {
		t.Fatalf("waitlist waiter: %v", err)
	}
	if _, err := eng.Register(ctx, "waiter", "ev-open"); err != nil {
		t.Fatalf("register waiter on open event: %v", err)
	}

	regs, err := eng.UserRegistrations(ctx, "waiter")
	if err != nil {
		t.Fatalf("user registrations: %v", err)
	}
	if len(regs) != 1 || regs[0].ID != "ev-open" {
		t.Fatalf("registrations must exclude waitlisted-only events, got %v", eventIDs(regs))
	}

	waits, err := eng.UserWaitlists(ctx, "waiter")
	if err != nil {
		t.Fatalf("user waitlists: %v", err)
	}
	if len(waits) != 1 || waits[0].ID != "ev-full" {
		t.Fatalf("waitlists must exclude registered events, got %v", eventIDs(waits))
	}

	// no memberships at all
	mustUser(t, eng, "nobody")
	regs, _ = eng.UserRegistrations(ctx, "nobody")
	waits, _ = eng.UserWaitlists(ctx, "nobody")
	if len(regs) != 0 || len(waits) != 0 {
		t.Fatalf("expected empty projections for user with no memberships")
	}
}

// Capacity 2 with waitlist on: A and B hold slots, C waits; dropping A
// promotes C and the projections must reflect the move.
func TestPromotionUpdatesProjections(t *testing.T) {
	eng := newTestEngine(memory.New(), 0)
	ctx := context.Background()

	mustEvent(t, eng, "E", 2, true)
	for _, id := range []string{"A", "B", "C"} {
		mustUser(t, eng, id)
		if _, err := eng.Register(ctx, id, "E"); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	rem, err := eng.Unregister(ctx, "A", "E")
	if err != nil {
		t.Fatalf("unregister A: %v", err)
	}
	if rem.PromotedUserID != "C" {
		t.Fatalf("got promoted %q, want C", rem.PromotedUserID)
	}

	regs, _ := eng.UserRegistrations(ctx, "C")
	if len(regs) != 1 || regs[0].ID != "E" {
		t.Fatalf("C should now be registered for E, got %v", eventIDs(regs))
	}

	waits, _ := eng.UserWaitlists(ctx, "C")
	if len(waits) != 0 {
		t.Fatalf("C should no longer be waitlisted, got %v", eventIDs(waits))
	}

	e, _ := eng.GetEvent(ctx, "E")
	if len(e.Waitlist) != 0 {
		t.Fatalf("waitlist should be empty, got %v", e.WaitlistUserIDs())
	}
}

func TestMembershipDisjointnessUnderConcurrency(t *testing.T) {
	st := memory.New()
	eng := newTestEngine(st, 200)
	ctx := context.Background()

	const capacity = 4
	const callers = 32

	mustEvent(t, eng, "ev-race", capacity, true)

	ids := make([]string, callers)
	for i := range ids {
		ids[i] = "u-" + string(rune('A'+i/10)) + string(rune('0'+i%10))
		mustUser(t, eng, ids[i])
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for _, id := range ids {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := eng.Register(ctx, userID, "ev-race")
			errs <- err
		}(id)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("racing register failed: %v", err)
		}
	}

	e, err := eng.GetEvent(ctx, "ev-race")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}

	if len(e.Registered) != capacity {
		t.Fatalf("got %d registered, want exactly %d", len(e.Registered), capacity)
	}
	if len(e.Waitlist) != callers-capacity {
		t.Fatalf("got %d waitlisted, want %d", len(e.Waitlist), callers-capacity)
	}

	seen := make(map[string]int)
	for _, id := range e.Registered {
		seen[id]++
	}
	for _, w := range e.Waitlist {
		seen[w.UserID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("user %s appears %d times across memberships", id, n)
		}
	}
}

func TestConcurrencyExhausted(t *testing.T) {
	st := &conflictStore{Store: memory.New()}
	eng := newTestEngine(st, 3)
	ctx := context.Background()

	mustUser(t, eng, "u-1")
	mustEvent(t, eng, "ev-1", 1, false)

	st.alwaysConflict = true

	_, err := eng.Register(ctx, "u-1", "ev-1")
	if !errors.Is(err, registration.ErrConcurrencyExhausted) {
		t.Fatalf("got err %v, want ErrConcurrencyExhausted", err)
	}

	if st.casCalls != 3 {
		t.Fatalf("got %d CAS attempts, want 3", st.casCalls)
	}

	// business state untouched
	e, _ := eng.GetEvent(ctx, "ev-1")
	if len(e.Registered) != 0 {
		t.Fatalf("failed operation must leave no partial state, got %v", e.Registered)
	}
}

func TestRegisterHonorsContextCancellation(t *testing.T) {
	st := &conflictStore{Store: memory.New(), alwaysConflict: false}
	eng := engine.New(engine.Config{
		MaxAttempts: 10,
		Backoff:     func(int) time.Duration { return 50 * time.Millisecond },
	}, st, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	ctx := context.Background()
	mustUser(t, eng, "u-1")
	mustEvent(t, eng, "ev-1", 1, false)

	st.alwaysConflict = true

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	_, err := eng.Register(cctx, "u-1", "ev-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got err %v, want context.DeadlineExceeded", err)
	}
}

// conflictStore wraps the memory store and injects version conflicts.
type conflictStore struct {
	*memory.Store
	alwaysConflict bool
	casCalls       int
}

func (c *conflictStore) CompareAndSwapEvent(ctx context.Context, expectedVersion int64, next event.Event) error {
	c.casCalls++
	if c.alwaysConflict {
		return store.ErrVersionConflict
	}
	return c.Store.CompareAndSwapEvent(ctx, expectedVersion, next)
}

func eventIDs(events []event.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}
