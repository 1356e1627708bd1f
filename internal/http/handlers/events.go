package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/waitroom/internal/cache"
	"github.com/geocoder89/waitroom/internal/config"
	"github.com/geocoder89/waitroom/internal/domain/event"
	"github.com/gin-gonic/gin"
)

type EventService interface {
	CreateEvent(ctx context.Context, req event.CreateEventRequest) (event.Event, error)
	GetEvent(ctx context.Context, id string) (event.Event, error)
}

type EventsHandler struct {
	svc   EventService
	cache *cache.Cache
}

func NewEventsHandler(svc EventService) *EventsHandler {
	return &EventsHandler{svc: svc}
}

func NewEventsHandlerWithCache(svc EventService, c *cache.Cache) *EventsHandler {
	return &EventsHandler{svc: svc, cache: c}
}

// eventResponse exposes membership as the API shape: a plain list of user ids
// for the registered set and an ordered list for the waitlist.
type eventResponse struct {
	EventID         string    `json:"eventId"`
	Name            string    `json:"name"`
	Capacity        int       `json:"capacity"`
	WaitlistEnabled bool      `json:"waitlistEnabled"`
	RegisteredUsers []string  `json:"registeredUsers"`
	Waitlist        []string  `json:"waitlist"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toEventResponse(e event.Event) eventResponse {
	return eventResponse{
		EventID:         e.ID,
		Name:            e.Name,
		Capacity:        e.Capacity,
		WaitlistEnabled: e.WaitlistEnabled,
		RegisteredUsers: append([]string{}, e.Registered...),
		Waitlist:        e.WaitlistUserIDs(),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func (h *EventsHandler) CreateEvent(ctx *gin.Context) {
	var req event.CreateEventRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.svc.CreateEvent(cctx, req)

	if err != nil {
		switch {
		case errors.Is(err, event.ErrInvalidCapacity):
			RespondBadRequest(ctx, "capacity must be greater than zero", nil)
		case errors.Is(err, event.ErrDuplicate):
			RespondConflict(ctx, "duplicate_event", "an event with this id already exists")
		default:
			RespondInternal(ctx, "Could not create event")
		}
		return
	}

	ctx.JSON(http.StatusCreated, toEventResponse(e))
}

func (h *EventsHandler) GetEventById(ctx *gin.Context) {
	id := ctx.Param("id")

	if h.cache != nil {
		if v, ok := h.cache.Get(cacheKeyEvent(id)); ok {
			if resp, ok := v.(eventResponse); ok {
				RespondJSONWithETag(ctx, http.StatusOK, resp)
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	e, err := h.svc.GetEvent(cctx, id)

	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			RespondNotFound(ctx, "Event not found")
			return
		}
		RespondInternal(ctx, "Could not fetch event")
		return
	}

	resp := toEventResponse(e)

	if h.cache != nil {
		h.cache.Set(cacheKeyEvent(id), resp)
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

func cacheKeyEvent(id string) string {
	return "event:" + id
}
