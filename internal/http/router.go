package http

import (
	"context"
	"os"
	"time"

	"github.com/geocoder89/waitroom/internal/cache"
	"github.com/geocoder89/waitroom/internal/config"
	"github.com/geocoder89/waitroom/internal/engine"
	"github.com/geocoder89/waitroom/internal/http/handlers"
	"github.com/geocoder89/waitroom/internal/http/middlewares"
	"github.com/geocoder89/waitroom/internal/observability"
	"github.com/geocoder89/waitroom/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterDeps struct {
	Cfg    config.Config
	Engine *engine.Engine
	Store  store.Store
	Prom   *observability.Prom
	Cache  *cache.Cache
}

func NewRouter(deps RouterDeps) *gin.Engine {
	cfgEnv := os.Getenv("APP_ENV")

	if cfgEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("waitroom"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(1 << 20))

	if len(deps.Cfg.CORSOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(deps.Cfg.CORSOrigins))
	}

	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// health
	ping := func() error {
		if deps.Store == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return deps.Store.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// wire up handlers over the engine
	usersHandler := handlers.NewUsersHandler(deps.Engine)
	eventsHandler := handlers.NewEventsHandlerWithCache(deps.Engine, deps.Cache)
	registrationHandler := handlers.NewRegistrationHandler(deps.Engine, deps.Cache)

	r.POST("/users", usersHandler.CreateUser)
	r.GET("/users/:id", usersHandler.GetUserById)
	r.GET("/users/:id/registrations", usersHandler.ListRegistrations)
	r.GET("/users/:id/waitlists", usersHandler.ListWaitlists)

	r.POST("/events", eventsHandler.CreateEvent)
	r.GET("/events/:id", eventsHandler.GetEventById)

	// registration writes share a rate limit keyed by client identity
	limited := gin.HandlerFunc(func(ctx *gin.Context) { ctx.Next() })
	if deps.Cfg.RateLimit > 0 {
		limiter := middlewares.NewRateLimiter(deps.Cfg.RateLimit, deps.Cfg.RateLimitWindow)
		limited = limiter.RateLimiterMiddleware(func(*gin.Context) string { return "" })
	}

	r.POST("/events/:id/registrations", limited, registrationHandler.Register)
	r.GET("/events/:id/registrations", registrationHandler.ListForEvent)
	r.DELETE("/events/:id/registrations/:userId", limited, registrationHandler.Unregister)

	return r
}
