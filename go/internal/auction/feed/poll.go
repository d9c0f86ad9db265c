package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
)

var _ reconciler.ChangeFeed = (*PollFeed)(nil)

// PollFeed emits a synthetic hint every interval, for deployments without a
// push transport.
type PollFeed struct {
	clock    clockwork.Clock
	interval time.Duration
}

func NewPollFeed(clock clockwork.Clock, interval time.Duration) *PollFeed {
	return &PollFeed{clock: clock, interval: interval}
}

func (f *PollFeed) Subscribe(ctx context.Context, auctionID uuid.UUID, handler func(events.BidInserted)) (reconciler.Subscription, error) {
	if f.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", f.interval)
	}

	sub := newSubscription(auctionID, handler)
	ticker := f.clock.NewTicker(f.interval)

	go func() {
		defer sub.finish()
		defer ticker.Stop()
		for {
			select {
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				sub.deliver(events.BidInserted{AuctionID: auctionID})
			}
		}
	}()
	return sub, nil
}
