package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pollroom/pollroom/internal/config"
	"github.com/pollroom/pollroom/internal/gateway"
	"github.com/pollroom/pollroom/internal/httpapi"
	"github.com/pollroom/pollroom/internal/poll"
	"github.com/pollroom/pollroom/internal/relay"
	"github.com/pollroom/pollroom/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	store, cleanup, err := setupStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up poll store")
	}
	defer cleanup()

	lifecycle := poll.NewLifecycle(store, clock)
	registry := session.NewRegistry()
	rooms := session.NewRooms()

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	coordinator := gateway.NewCoordinator(ctx, registry, rooms, lifecycle, cm, clock)
	cm.SetHandler(coordinator)

	if cfg.NATSURL != "" {
		eventRelay, err := relay.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer eventRelay.Close()
		cm.SetSink(eventRelay)
		log.Info().Str("url", cfg.NATSURL).Msg("event relay enabled")
	}

	go cm.Start(ctx)

	server := setupServer(cfg, cm, lifecycle, coordinator)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupStore(ctx context.Context, cfg *config.Config) (poll.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("no DATABASE_URL set, keeping polls in memory")
		return poll.NewMemoryStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := poll.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info().Msg("connected to Postgres poll store")
	return store, pool.Close, nil
}

func setupServer(cfg *config.Config, cm *gateway.ConnectionManager, lifecycle *poll.Lifecycle, coordinator *gateway.Coordinator) *http.Server {
	r := chi.NewRouter()

	pollHandler := httpapi.NewHandler(lifecycle, coordinator, httpapi.NewTeacherAuth(cfg.TeacherSecret))
	r.Mount("/api/polls", pollHandler.Routes())
	r.Handle("/ws", gateway.NewWebSocketHandler(cm))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.CORSOrigin},
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: c.Handler(r),
	}
}
