package feed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ reconciler.ChangeFeed = (*RedisFeed)(nil)

// RedisFeed delivers hints from Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Subscribe(ctx context.Context, auctionID uuid.UUID, handler func(events.BidInserted)) (reconciler.Subscription, error) {
	channel := events.RedisChannel(auctionID)

	pubsub := f.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no publish is missed
	// between here and the seed fetch.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	sub := newSubscription(auctionID, handler)
	sub.release = pubsub.Close
	messages := pubsub.Channel()

	go func() {
		defer sub.finish()
		for {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				_ = sub.releaseTransport()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				sub.deliver(decodeHint(auctionID, []byte(msg.Payload)))
			}
		}
	}()

	log.Debug().
		Str("auction_id", auctionID.String()).
		Str("channel", channel).
		Msg("Redis bid subscription started")
	return sub, nil
}
