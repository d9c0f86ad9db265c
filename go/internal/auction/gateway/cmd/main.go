package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/bidwidget/go/internal/auction/bus"
	"github.com/mcdev12/bidwidget/go/internal/auction/feed"
	"github.com/mcdev12/bidwidget/go/internal/auction/gateway"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/mcdev12/bidwidget/go/internal/auction/repository"
	"github.com/mcdev12/bidwidget/go/internal/config"
	"github.com/mcdev12/bidwidget/go/internal/dbconfig"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := repository.NewPool(ctx, dbCfg.PoolDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	repo := repository.NewRepository(pool)

	clock := clockwork.NewRealClock()

	changeFeed, closeFeed, err := setupFeed(ctx, appCfg, dbCfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up bid feed")
	}
	defer closeFeed()

	gwCfg := gateway.DefaultConfig()
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		gwCfg.AllowedOrigins = strings.Split(origins, ",")
	}

	service := gateway.NewService(gwCfg, gateway.Backend{
		Auctions:  repo,
		Fetcher:   repo,
		Feed:      changeFeed,
		Bids:      repo,
		Purchases: repo,
		Policy:    appCfg.WidgetPolicy(),
		Clock:     clock,
	})

	port := config.GetEnv("GATEWAY_PORT", "8080")
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           h2c.NewHandler(service.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("feed", string(appCfg.Feed.Backend)).
		Ints("increment_percents", appCfg.Policy.IncrementPercents).
		Str("buy_now_markup", appCfg.Policy.BuyNowMarkup).
		Str("port", port).
		Msg("starting auction gateway")

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown; close them first.
	service.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("auction gateway shutdown complete")
}

// setupFeed builds the configured change feed and a function releasing it.
func setupFeed(ctx context.Context, cfg *config.Config, dbCfg dbconfig.Config, clock clockwork.Clock) (reconciler.ChangeFeed, func(), error) {
	switch cfg.Feed.Backend {
	case config.FeedNATS:
		natsCfg := bus.NATSConfigFromEnv()
		conn, err := bus.Connect(natsCfg)
		if err != nil {
			return nil, nil, err
		}
		if _, err := conn.EnsureStream(ctx, natsCfg); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return feed.NewNATSFeed(conn, natsCfg.StreamName), conn.Close, nil
	case config.FeedRedis:
		rdb, err := bus.NewRedisClient(ctx, bus.RedisConfigFromEnv())
		if err != nil {
			return nil, nil, err
		}
		return feed.NewRedisFeed(rdb), func() { _ = rdb.Close() }, nil
	case config.FeedPostgres:
		return feed.NewPostgresFeed(feed.DefaultPostgresConfig(dbCfg.DSN()), clock), func() {}, nil
	case config.FeedPoll:
		return feed.NewPollFeed(clock, cfg.Feed.PollInterval), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend)
	}
}
