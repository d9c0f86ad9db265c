package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type fakeNotifier struct {
	notes  chan *pq.Notification
	pings  atomic.Int32
	closes atomic.Int32
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notes: make(chan *pq.Notification, 4)}
}

func (n *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return n.notes }

func (n *fakeNotifier) Ping() error {
	n.pings.Add(1)
	return nil
}

func (n *fakeNotifier) Close() error {
	if n.closes.Add(1) > 1 {
		return errors.New("listener already closed")
	}
	return nil
}

type pgFixture struct {
	clock    *clockwork.FakeClock
	notifier *fakeNotifier
	channel  string
	feed     *PostgresFeed
}

func newPGFixture() *pgFixture {
	fx := &pgFixture{clock: clockwork.NewFakeClock(), notifier: newFakeNotifier()}
	fx.feed = NewPostgresFeedWithNotifier(DefaultPostgresConfig(""), fx.clock, func(channel string) (Notifier, error) {
		fx.channel = channel
		return fx.notifier, nil
	})
	return fx
}

func nextHint(t *testing.T, hints <-chan events.BidInserted) events.BidInserted {
	t.Helper()
	select {
	case evt := <-hints:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hint")
		return events.BidInserted{}
	}
}

func TestPostgresFeed_DecodesTriggerPayload(t *testing.T) {
	fx := newPGFixture()
	auctionID := uuid.New()
	hints := make(chan events.BidInserted, 4)

	sub, err := fx.feed.Subscribe(context.Background(), auctionID, func(evt events.BidInserted) { hints <- evt })
	assert.NoError(t, err)
	defer sub.Unsubscribe()
	check.Equal(t, events.PostgresChannel(auctionID), fx.channel)

	fx.notifier.notes <- &pq.Notification{
		Channel: fx.channel,
		Extra: `{"bid_id":31,"seq":4,"auction_id":"` + auctionID.String() +
			`","bidder_id":"` + uuid.New().String() + `","amount":"132000.00","created_at":"2025-03-01T13:30:00+00:00"}`,
	}

	evt := nextHint(t, hints)
	check.Equal(t, int64(31), evt.BidID)
	check.Equal(t, int64(4), evt.Seq)
	check.Equal(t, "132000", evt.Amount.String())
}

func TestPostgresFeed_ReconnectIsARefetchHint(t *testing.T) {
	fx := newPGFixture()
	auctionID := uuid.New()
	hints := make(chan events.BidInserted, 4)

	sub, err := fx.feed.Subscribe(context.Background(), auctionID, func(evt events.BidInserted) { hints <- evt })
	assert.NoError(t, err)
	defer sub.Unsubscribe()

	fx.notifier.notes <- nil

	evt := nextHint(t, hints)
	check.Equal(t, auctionID, evt.AuctionID)
	check.Equal(t, int64(0), evt.BidID)
}

func TestPostgresFeed_PingsOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fx := newPGFixture()
	sub, err := fx.feed.Subscribe(ctx, uuid.New(), func(events.BidInserted) {})
	assert.NoError(t, err)
	defer sub.Unsubscribe()

	assert.NoError(t, fx.clock.BlockUntilContext(ctx, 1))
	fx.clock.Advance(DefaultPostgresConfig("").PingInterval)

	deadline := time.After(2 * time.Second)
	for fx.notifier.pings.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("listener never pinged")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPostgresFeed_ContextCancelClosesDoneOnce(t *testing.T) {
	fx := newPGFixture()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := fx.feed.Subscribe(ctx, uuid.New(), func(events.BidInserted) {})
	assert.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after context cancel")
	}

	// The listener was already closed by the cancel; Unsubscribe must not
	// close it again.
	check.NoError(t, sub.Unsubscribe())
	check.Equal(t, int32(1), fx.notifier.closes.Load())
}

func TestPostgresFeed_UnsubscribeClosesOnce(t *testing.T) {
	fx := newPGFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := fx.feed.Subscribe(ctx, uuid.New(), func(events.BidInserted) {})
	assert.NoError(t, err)

	check.NoError(t, sub.Unsubscribe())
	cancel()
	check.NoError(t, sub.Unsubscribe())
	check.Equal(t, int32(1), fx.notifier.closes.Load())
}

func TestPostgresFeed_ListenError(t *testing.T) {
	f := NewPostgresFeedWithNotifier(DefaultPostgresConfig(""), clockwork.NewFakeClock(), func(string) (Notifier, error) {
		return nil, errors.New("connection refused")
	})
	_, err := f.Subscribe(context.Background(), uuid.New(), func(events.BidInserted) {})
	check.Error(t, err)
}
