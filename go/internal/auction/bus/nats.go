package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds the NATS connection settings shared by the relay and
// the gateway.
type NATSConfig struct {
	URL             string
	StreamName      string
	MaxAge          time.Duration
	DuplicateWindow time.Duration // Window for duplicate detection
	MaxReconnects   int
	ReconnectWait   time.Duration
}

// DefaultNATSConfig returns the default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      events.StreamName,
		MaxAge:          24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
	}
}

// NATSConfigFromEnv overrides the defaults with NATS_URL and NATS_STREAM.
func NATSConfigFromEnv() NATSConfig {
	cfg := DefaultNATSConfig()
	cfg.URL = config.GetEnv("NATS_URL", cfg.URL)
	cfg.StreamName = config.GetEnv("NATS_STREAM", cfg.StreamName)
	return cfg
}

// Conn is a NATS connection with its JetStream context. Closed is closed
// once the connection is permanently gone.
type Conn struct {
	NC     *nats.Conn
	JS     jetstream.JetStream
	closed chan struct{}
}

// Connect dials NATS with reconnect handlers and opens JetStream.
func Connect(cfg NATSConfig) (*Conn, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Warn().Msg("NATS connection closed")
			close(closed)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return &Conn{NC: nc, JS: js, closed: closed}, nil
}

// Closed is closed when the connection will not reconnect again.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// EnsureStream creates or updates the bid event stream.
func (c *Conn) EnsureStream(ctx context.Context, cfg NATSConfig) (jetstream.Stream, error) {
	stream, err := c.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Bid insert events per auction",
		Subjects:    []string{events.NATSSubjectWildcard},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Duplicates:  cfg.DuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return stream, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() {
	if c.NC != nil {
		c.NC.Close()
	}
}
