package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/waitroom/internal/config"
	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type UserService interface {
	CreateUser(ctx context.Context, id, name string) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	UserRegistrations(ctx context.Context, userID string) ([]event.Event, error)
	UserWaitlists(ctx context.Context, userID string) ([]event.Event, error)
}

type UsersHandler struct {
	svc UserService
}

func NewUsersHandler(svc UserService) *UsersHandler {
	return &UsersHandler{svc: svc}
}

// eventSummary is the projection payload: membership sizes, not member lists.
type eventSummary struct {
	EventID         string `json:"eventId"`
	Name            string `json:"name"`
	Capacity        int    `json:"capacity"`
	WaitlistEnabled bool   `json:"waitlistEnabled"`
	RegisteredCount int    `json:"registeredCount"`
	WaitlistCount   int    `json:"waitlistCount"`
}

func summarize(events []event.Event) []eventSummary {
	out := make([]eventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, eventSummary{
			EventID:         e.ID,
			Name:            e.Name,
			Capacity:        e.Capacity,
			WaitlistEnabled: e.WaitlistEnabled,
			RegisteredCount: len(e.Registered),
			WaitlistCount:   len(e.Waitlist),
		})
	}
	return out
}

func (h *UsersHandler) CreateUser(ctx *gin.Context) {
	var req user.CreateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.svc.CreateUser(cctx, req.ID, req.Name)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrInvalidInput):
			RespondBadRequest(ctx, "userId and name must be non-blank", nil)
		case errors.Is(err, user.ErrDuplicate):
			RespondConflict(ctx, "duplicate_user", "a user with this id already exists")
		default:
			RespondInternal(ctx, "Could not create user")
		}
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

func (h *UsersHandler) GetUserById(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.svc.GetUser(cctx, id)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, "Could not fetch user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) ListRegistrations(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	events, err := h.svc.UserRegistrations(cctx, id)

	if err != nil {
		RespondInternal(ctx, "Could not list registrations")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"userId": id,
		"count":  len(events),
		"events": summarize(events),
	})
}

func (h *UsersHandler) ListWaitlists(ctx *gin.Context) {
	id := ctx.Param("id")

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	events, err := h.svc.UserWaitlists(cctx, id)

	if err != nil {
		RespondInternal(ctx, "Could not list waitlists")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"userId": id,
		"count":  len(events),
		"events": summarize(events),
	})
}
