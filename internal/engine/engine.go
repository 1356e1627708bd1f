package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/registration"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/geocoder89/waitroom/internal/observability"
	"github.com/geocoder89/waitroom/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxAttempts = 5

type Config struct {
	// MaxAttempts bounds the read-decide-write loop on version conflicts.
	MaxAttempts int
	// Backoff returns the pause before retry attempt n. Defaults to CASBackoff.
	Backoff func(attempt int) time.Duration
}

// Engine is the sole writer of registration state transitions. It is stateless
// between calls; correctness under concurrent callers rests entirely on the
// store's conditional write.
type Engine struct {
	store       store.Store
	log         *slog.Logger
	prom        *observability.Prom
	tracer      trace.Tracer
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

func New(cfg Config, st store.Store, log *slog.Logger, prom *observability.Prom) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.Backoff == nil {
		cfg.Backoff = CASBackoff
	}

	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		store:       st,
		log:         log,
		prom:        prom,
		tracer:      otel.Tracer("waitroom/engine"),
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

// CreateUser persists a new user. Not idempotent: a second call with the same
// id fails user.ErrDuplicate so callers cannot retry blindly.
func (eng *Engine) CreateUser(ctx context.Context, id, name string) (user.User, error) {
	u, err := user.New(id, name)
	if err != nil {
		return user.User{}, err
	}

	err = eng.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}

	eng.log.InfoContext(ctx, "user created", "user_id", u.ID)
	return u, nil
}

func (eng *Engine) GetUser(ctx context.Context, id string) (user.User, error) {
	return eng.store.GetUser(ctx, id)
}

// CreateEvent persists a new event with empty membership sets. Capacity and
// waitlist policy are fixed for the lifetime of the event.
func (eng *Engine) CreateEvent(ctx context.Context, req event.CreateEventRequest) (event.Event, error) {
	e, err := event.NewFromCreateRequest(req)
	if err != nil {
		return event.Event{}, err
	}

	err = eng.store.CreateEvent(ctx, e)
	if err != nil {
		return event.Event{}, err
	}

	eng.log.InfoContext(ctx, "event created",
		"event_id", e.ID, "capacity", e.Capacity, "waitlist_enabled", e.WaitlistEnabled)

	// stores stamp version 1 on create
	e.Version = 1
	return e, nil
}

func (eng *Engine) GetEvent(ctx context.Context, id string) (event.Event, error) {
	return eng.store.GetEvent(ctx, id)
}

// Register claims a slot on the event for userID, or a waitlist place when the
// event is full and waitlisted registrations are allowed.
func (eng *Engine) Register(ctx context.Context, userID, eventID string) (registration.Result, error) {
	ctx, span := eng.tracer.Start(ctx, "engine.Register",
		trace.WithAttributes(attribute.String("event.id", eventID)))
	defer span.End()

	if _, err := eng.store.GetUser(ctx, userID); err != nil {
		return registration.Result{}, err
	}

	var res registration.Result

	err := eng.casLoop(ctx, "register", eventID, func(snap event.Event) (event.Event, error) {
		if snap.IsRegistered(userID) || snap.IsWaitlisted(userID) {
			return event.Event{}, registration.ErrAlreadyRegistered
		}

		switch {
		case !snap.IsFull():
			res = registration.Result{
				UserID:  userID,
				EventID: eventID,
				Status:  registration.StatusRegistered,
			}
			return snap.WithRegistered(userID), nil

		case snap.WaitlistEnabled:
			next := snap.WithWaitlisted(userID)
			res = registration.Result{
				UserID:   userID,
				EventID:  eventID,
				Status:   registration.StatusWaitlisted,
				Position: next.WaitlistPosition(userID),
			}
			return next, nil

		default:
			return event.Event{}, registration.ErrEventFull
		}
	})

	if err != nil {
		eng.countOutcome("register", "rejected")
		return registration.Result{}, err
	}

	eng.countOutcome("register", string(res.Status))
	eng.log.InfoContext(ctx, "registration committed",
		"user_id", userID, "event_id", eventID, "status", res.Status)
	return res, nil
}

// Unregister releases userID's membership on the event. Releasing a registered
// slot promotes the waitlist head (FIFO) in the same committed write, so no
// reader ever observes the freed slot and the un-promoted head together.
func (eng *Engine) Unregister(ctx context.Context, userID, eventID string) (registration.Removal, error) {
	ctx, span := eng.tracer.Start(ctx, "engine.Unregister",
		trace.WithAttributes(attribute.String("event.id", eventID)))
	defer span.End()

	var rem registration.Removal

	err := eng.casLoop(ctx, "unregister", eventID, func(snap event.Event) (event.Event, error) {
		switch {
		case snap.IsWaitlisted(userID):
			rem = registration.Removal{
				UserID:      userID,
				EventID:     eventID,
				RemovedFrom: registration.StatusWaitlisted,
			}
			return snap.WithoutWaitlisted(userID), nil

		case snap.IsRegistered(userID):
			next, promoted := snap.WithoutRegistered(userID).PromoteHead()
			rem = registration.Removal{
				UserID:         userID,
				EventID:        eventID,
				RemovedFrom:    registration.StatusRegistered,
				PromotedUserID: promoted,
			}
			return next, nil

		default:
			return event.Event{}, registration.ErrNotRegistered
		}
	})

	if err != nil {
		eng.countOutcome("unregister", "rejected")
		return registration.Removal{}, err
	}

	eng.countOutcome("unregister", "removed")
	if rem.PromotedUserID != "" {
		eng.countOutcome("unregister", "promoted")
	}

	eng.log.InfoContext(ctx, "unregistration committed",
		"user_id", userID, "event_id", eventID,
		"removed_from", rem.RemovedFrom, "promoted_user_id", rem.PromotedUserID)
	return rem, nil
}

// UserRegistrations lists events where userID holds a slot. Waitlisted-only
// events never appear here.
func (eng *Engine) UserRegistrations(ctx context.Context, userID string) ([]event.Event, error) {
	return eng.store.EventsByMember(ctx, userID, store.KindRegistered)
}

// UserWaitlists lists events where userID is waiting for a slot.
func (eng *Engine) UserWaitlists(ctx context.Context, userID string) ([]event.Event, error) {
	return eng.store.EventsByMember(ctx, userID, store.KindWaitlisted)
}

// EventRegistrations returns the user ids currently holding slots on the event.
func (eng *Engine) EventRegistrations(ctx context.Context, eventID string) ([]string, error) {
	e, err := eng.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return append([]string{}, e.Registered...), nil
}

// casLoop runs the read-decide-write cycle for one event. decide is a pure
// function of the snapshot: it returns the next snapshot to commit, or a
// business error that aborts the loop with nothing written.
func (eng *Engine) casLoop(ctx context.Context, op, eventID string, decide func(event.Event) (event.Event, error)) error {
	for attempt := 0; attempt < eng.maxAttempts; attempt++ {
		snap, err := eng.store.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}

		next, err := decide(snap)
		if err != nil {
			return err
		}

		err = eng.store.CompareAndSwapEvent(ctx, snap.Version, next)
		if err == nil {
			return nil
		}

		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}

		if eng.prom != nil {
			eng.prom.CASConflictsTotal.WithLabelValues(op).Inc()
		}

		eng.log.DebugContext(ctx, "cas conflict, retrying",
			"op", op, "event_id", eventID, "attempt", attempt)

		if err := eng.sleep(ctx, eng.backoff(attempt)); err != nil {
			return err
		}
	}

	if eng.prom != nil {
		eng.prom.CASRetriesExhausted.WithLabelValues(op).Inc()
	}

	eng.log.WarnContext(ctx, "cas retry budget exhausted", "op", op, "event_id", eventID)
	return registration.ErrConcurrencyExhausted
}

func (eng *Engine) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (eng *Engine) countOutcome(op, result string) {
	if eng.prom != nil {
		eng.prom.RegistrationOutcomes.WithLabelValues(op, result).Inc()
	}
}
