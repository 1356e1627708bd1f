package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/waitroom/internal/cache"
	"github.com/geocoder89/waitroom/internal/config"
	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/geocoder89/waitroom/internal/domain/registration"
	"github.com/geocoder89/waitroom/internal/domain/user"
	"github.com/gin-gonic/gin"
)

type RegistrationService interface {
	Register(ctx context.Context, userID, eventID string) (registration.Result, error)
	Unregister(ctx context.Context, userID, eventID string) (registration.Removal, error)
	EventRegistrations(ctx context.Context, eventID string) ([]string, error)
}

type RegistrationHandler struct {
	svc   RegistrationService
	cache *cache.Cache
}

func NewRegistrationHandler(svc RegistrationService, c *cache.Cache) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, cache: c}
}

type registerRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h *RegistrationHandler) Register(ctx *gin.Context) {
	eventID := ctx.Param("id")

	var req registerRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	res, err := h.svc.Register(cctx, req.UserID, eventID)

	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			RespondNotFound(ctx, "User not found")
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "Event not found")
		case errors.Is(err, registration.ErrAlreadyRegistered):
			RespondConflict(ctx, "already_registered", "this user is already registered or waitlisted for this event")
		case errors.Is(err, registration.ErrEventFull):
			RespondConflict(ctx, "event_full", "this event is at full capacity and has no waitlist")
		case errors.Is(err, registration.ErrConcurrencyExhausted):
			RespondContention(ctx, "registration contention, please retry")
		default:
			RespondInternal(ctx, "Could not register for event")
		}
		return
	}

	h.invalidate(eventID)

	ctx.JSON(http.StatusCreated, res)
}

func (h *RegistrationHandler) Unregister(ctx *gin.Context) {
	eventID := ctx.Param("id")
	userID := ctx.Param("userId")

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	rem, err := h.svc.Unregister(cctx, userID, eventID)

	if err != nil {
		switch {
		case errors.Is(err, event.ErrNotFound):
			RespondNotFound(ctx, "Event not found")
		case errors.Is(err, registration.ErrNotRegistered):
			RespondNotFound(ctx, "User is not registered or waitlisted for this event")
		case errors.Is(err, registration.ErrConcurrencyExhausted):
			RespondContention(ctx, "unregistration contention, please retry")
		default:
			RespondInternal(ctx, "Could not unregister from event")
		}
		return
	}

	h.invalidate(eventID)

	ctx.JSON(http.StatusOK, rem)
}

func (h *RegistrationHandler) ListForEvent(ctx *gin.Context) {
	eventID := ctx.Param("id")

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	userIDs, err := h.svc.EventRegistrations(cctx, eventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}

		RespondInternal(ctx, "Could not list registrations")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"eventId":         eventID,
		"count":           len(userIDs),
		"registeredUsers": userIDs,
	})
}

// invalidate drops the cached event read after a committed membership change.
func (h *RegistrationHandler) invalidate(eventID string) {
	if h.cache != nil {
		h.cache.Delete(cacheKeyEvent(eventID))
	}
}
