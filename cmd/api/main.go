package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/waitroom/internal/cache"
	"github.com/geocoder89/waitroom/internal/config"
	"github.com/geocoder89/waitroom/internal/engine"
	httpx "github.com/geocoder89/waitroom/internal/http"
	"github.com/geocoder89/waitroom/internal/observability"
	"github.com/geocoder89/waitroom/internal/store"
	"github.com/geocoder89/waitroom/internal/store/memory"
	"github.com/geocoder89/waitroom/internal/store/postgres"
	redisstore "github.com/geocoder89/waitroom/internal/store/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// local dev convenience; real deployments set env directly
	_ = godotenv.Load()

	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(context.Background(), "waitroom-api", cfg.OTLPEndpoint)
		if err != nil {
			log.Error("tracer init failed", "err", err)
			os.Exit(1)
		}

		defer func() {
			ctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(ctx)
		}()
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	st, cleanup, err := buildStore(cfg, prom)
	if err != nil {
		log.Error("store init failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer cleanup()

	eng := engine.New(engine.Config{MaxAttempts: cfg.CASMaxAttempts}, st, log, prom)

	router := httpx.NewRouter(httpx.RouterDeps{
		Cfg:    cfg,
		Engine: eng,
		Store:  st,
		Prom:   prom,
		Cache:  cache.New(cfg.CacheTTL),
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// start server using a concurrent go-routine driven anonymous function.

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(ctx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)

			return
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

func buildStore(cfg config.Config, prom *observability.Prom) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := postgres.NewPool(cfg.DBURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool, prom), pool.Close, nil

	case "redis":
		st := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return st, func() { _ = st.Close() }, nil

	default:
		return memory.New(), func() {}, nil
	}
}
