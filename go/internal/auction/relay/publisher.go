package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/bidwidget/go/internal/auction/bus"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher is an interface that defines our publisher.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (Fanout)(nil)
)

// NATSPublisher publishes envelopes to the JetStream bid stream.
type NATSPublisher struct {
	js jetstream.JetStream
}

// NewNATSPublisher ensures the stream exists and returns a publisher on it.
func NewNATSPublisher(ctx context.Context, conn *bus.Conn, cfg bus.NATSConfig) (*NATSPublisher, error) {
	if _, err := conn.EnsureStream(ctx, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("stream", cfg.StreamName).Msg("JetStream stream ready")
	return &NATSPublisher{js: conn.JS}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := events.NATSSubject(env.Payload.AuctionID)
	// The message id lets JetStream drop redeliveries of the same bid.
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.EventID))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published to JetStream")
	return nil
}

// RedisPublisher publishes envelopes to per-auction Redis channels.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	channel := events.RedisChannel(env.Payload.AuctionID)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	log.Debug().
		Str("event_id", env.EventID).
		Str("channel", channel).
		Int64("receivers", receivers).
		Msg("published to Redis")
	return nil
}

// LogPublisher only logs, for development without a bus.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, env events.Envelope) error {
	log.Info().
		Str("event_id", env.EventID).
		Str("auction_id", env.AuctionID).
		Str("amount", env.Payload.Amount.String()).
		Msg("publishing event")
	return nil
}

// Fanout publishes to every publisher in order and stops at the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, env events.Envelope) error {
	for _, p := range f {
		if err := p.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
