package feed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/auction/bus"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

var _ reconciler.ChangeFeed = (*NATSFeed)(nil)

// NATSFeed delivers hints from the JetStream bid stream. Each subscription
// is an ephemeral ordered consumer filtered to one auction's subject that
// only sees messages published after it was created.
type NATSFeed struct {
	conn   *bus.Conn
	stream string
}

// NewNATSFeed creates a feed over an open connection.
func NewNATSFeed(conn *bus.Conn, stream string) *NATSFeed {
	return &NATSFeed{conn: conn, stream: stream}
}

func (f *NATSFeed) Subscribe(ctx context.Context, auctionID uuid.UUID, handler func(events.BidInserted)) (reconciler.Subscription, error) {
	subject := events.NATSSubject(auctionID)

	consumer, err := f.conn.JS.OrderedConsumer(ctx, f.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer for %s: %w", subject, err)
	}

	sub := newSubscription(auctionID, handler)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		sub.deliver(decodeHint(auctionID, msg.Data()))
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer for %s: %w", subject, err)
	}
	sub.release = func() error {
		consumeCtx.Stop()
		return nil
	}

	go func() {
		defer sub.finish()
		select {
		case <-sub.stop:
		case <-ctx.Done():
			_ = sub.releaseTransport()
		case <-f.conn.Closed():
			_ = sub.releaseTransport()
		}
	}()

	log.Debug().
		Str("auction_id", auctionID.String()).
		Str("subject", subject).
		Msg("JetStream bid subscription started")
	return sub, nil
}
