package event_test

import (
	"errors"
	"testing"

	"github.com/geocoder89/waitroom/internal/domain/event"
)

func TestNewFromCreateRequest(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  error
	}{
		{name: "valid", capacity: 1},
		{name: "zero_capacity", capacity: 0, wantErr: event.ErrInvalidCapacity},
		{name: "negative_capacity", capacity: -3, wantErr: event.ErrInvalidCapacity},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			e, err := event.NewFromCreateRequest(event.CreateEventRequest{
				Name:     "Go Meetup",
				Capacity: tt.capacity,
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got err %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if e.ID == "" {
				t.Fatalf("expected generated event id")
			}

			if len(e.Registered) != 0 || len(e.Waitlist) != 0 {
				t.Fatalf("expected empty membership sets")
			}
		})
	}
}

func TestNewFromCreateRequestKeepsSuppliedID(t *testing.T) {
	e, err := event.NewFromCreateRequest(event.CreateEventRequest{
		ID:       "ev-1",
		Name:     "Go Meetup",
		Capacity: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.ID != "ev-1" {
		t.Fatalf("got id %q, want ev-1", e.ID)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	e, _ := event.NewFromCreateRequest(event.CreateEventRequest{ID: "ev-1", Name: "x", Capacity: 5})
	e = e.WithRegistered("a").WithWaitlisted("b")

	c := e.Clone()
	c.Registered[0] = "mutated"
	c.Waitlist[0].UserID = "mutated"

	if e.Registered[0] != "a" || e.Waitlist[0].UserID != "b" {
		t.Fatalf("clone aliased the original membership slices")
	}
}

func TestWaitlistSeqIsMonotonicAndStable(t *testing.T) {
	e, _ := event.NewFromCreateRequest(event.CreateEventRequest{ID: "ev-1", Name: "x", Capacity: 1})
	e = e.WithWaitlisted("u1").WithWaitlisted("u2").WithWaitlisted("u3")

	if got := e.WaitlistUserIDs(); got[0] != "u1" || got[1] != "u2" || got[2] != "u3" {
		t.Fatalf("unexpected waitlist order: %v", got)
	}

	if e.Waitlist[0].Seq >= e.Waitlist[1].Seq || e.Waitlist[1].Seq >= e.Waitlist[2].Seq {
		t.Fatalf("seq not strictly increasing: %+v", e.Waitlist)
	}

	// removing the middle entry must not renumber the rest
	before := []int64{e.Waitlist[0].Seq, e.Waitlist[2].Seq}
	e = e.WithoutWaitlisted("u2")

	if got := e.WaitlistUserIDs(); len(got) != 2 || got[0] != "u1" || got[1] != "u3" {
		t.Fatalf("unexpected waitlist after removal: %v", got)
	}

	if e.Waitlist[0].Seq != before[0] || e.Waitlist[1].Seq != before[1] {
		t.Fatalf("removal renumbered surviving entries: %+v", e.Waitlist)
	}
}

func TestPromoteHead(t *testing.T) {
	e, _ := event.NewFromCreateRequest(event.CreateEventRequest{ID: "ev-1", Name: "x", Capacity: 2, WaitlistEnabled: true})
	e = e.WithRegistered("a").WithRegistered("b").WithWaitlisted("c").WithWaitlisted("d")

	e = e.WithoutRegistered("a")
	next, promoted := e.PromoteHead()

	if promoted != "c" {
		t.Fatalf("got promoted %q, want c", promoted)
	}

	if !next.IsRegistered("c") || next.IsWaitlisted("c") {
		t.Fatalf("promoted user should hold a slot and leave the waitlist")
	}

	if got := next.WaitlistUserIDs(); len(got) != 1 || got[0] != "d" {
		t.Fatalf("unexpected waitlist after promotion: %v", got)
	}
}

func TestPromoteHeadEmptyWaitlist(t *testing.T) {
	e, _ := event.NewFromCreateRequest(event.CreateEventRequest{ID: "ev-1", Name: "x", Capacity: 1})

	next, promoted := e.PromoteHead()
	if promoted != "" {
		t.Fatalf("expected no promotion, got %q", promoted)
	}

	if len(next.Registered) != 0 {
		t.Fatalf("expected registered set unchanged")
	}
}

func TestWaitlistPosition(t *testing.T) {
	e, _ := event.NewFromCreateRequest(event.CreateEventRequest{ID: "ev-1", Name: "x", Capacity: 1})
	e = e.WithWaitlisted("u1").WithWaitlisted("u2")

	if got := e.WaitlistPosition("u2"); got != 2 {
		t.Fatalf("got position %d, want 2", got)
	}

	if got := e.WaitlistPosition("absent"); got != 0 {
		t.Fatalf("got position %d for absent user, want 0", got)
	}
}
