package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwidget/go/internal/auction/bus"
	"github.com/mcdev12/bidwidget/go/internal/auction/relay"
	"github.com/mcdev12/bidwidget/go/internal/config"
	"github.com/mcdev12/bidwidget/go/internal/dbconfig"
)

func main() {
	// load .env
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// configure zerolog console output and level
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	appCfg, err := config.Load(os.Getenv("POLICY_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB config
	cfg := dbconfig.NewConfigFromEnv()
	dsn := cfg.DSN()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	// Publisher for the configured feed backend
	var (
		publisher relay.Publisher
		busUp     func() bool
	)
	switch appCfg.Feed.Backend {
	case config.FeedNATS:
		natsCfg := bus.NATSConfigFromEnv()
		conn, err := bus.Connect(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to NATS")
		}
		defer conn.Close()
		p, err := relay.NewNATSPublisher(ctx, conn, natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create JetStream publisher")
		}
		publisher = p
		busUp = conn.NC.IsConnected
	case config.FeedRedis:
		rdb, err := bus.NewRedisClient(ctx, bus.RedisConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("connect to Redis")
		}
		defer rdb.Close()
		publisher = relay.NewRedisPublisher(rdb)
	default:
		log.Warn().
			Str("backend", string(appCfg.Feed.Backend)).
			Msg("feed backend reads Postgres directly, relay will only log")
		publisher = relay.LogPublisher{}
	}

	// Listener config
	ltCfg := relay.DefaultListenerConfig()
	ltCfg.DatabaseURL = dsn
	if iv := os.Getenv("FALLBACK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			ltCfg.FallbackInterval = d
		}
	}

	notifier, err := relay.NewPQNotifier(ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create bid listener")
	}

	store := relay.NewSQLStore(db)
	listener := relay.NewListener(store, notifier, publisher, clockwork.NewRealClock(), ltCfg)

	// health endpoint
	mux := http.NewServeMux()
	mux.Handle("/health", relay.NewHealthChecker(listener, store, db, busUp))
	srv := &http.Server{
		Addr:              ":" + config.GetEnv("RELAY_HEALTH_PORT", "8081"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	// run listener
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting bid relay")
		errCh <- listener.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("listener stop")
		}
	case err := <-errCh:
		log.Error().Err(err).Msg("listener exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown")
	}
	log.Info().Msg("graceful shutdown complete")
}
