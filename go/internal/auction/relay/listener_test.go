package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

type fakeStore struct {
	mu   sync.Mutex
	bids []BidRow
}

func (s *fakeStore) add(row BidRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids = append(s.bids, row)
}

func (s *fakeStore) BidByID(ctx context.Context, id int64) (BidRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bids {
		if b.ID == id {
			return b, nil
		}
	}
	return BidRow{}, ErrBidNotFound
}

func (s *fakeStore) BidsAfter(ctx context.Context, afterID int64, limit int) ([]BidRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BidRow
	for _, b := range s.bids {
		if b.ID > afterID && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) LatestBidID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest int64
	for _, b := range s.bids {
		if b.ID > latest {
			latest = b.ID
		}
	}
	return latest, nil
}

type fakeNotifier struct {
	ch     chan *pq.Notification
	closed bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan *pq.Notification, 10)}
}

func (n *fakeNotifier) NotificationChannel() <-chan *pq.Notification { return n.ch }
func (n *fakeNotifier) Ping() error                                  { return nil }
func (n *fakeNotifier) Close() error {
	n.closed = true
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	published []events.Envelope
	notify    chan events.Envelope
}

func (p *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	p.published = append(p.published, env)
	if p.notify != nil {
		p.notify <- env
	}
	return nil
}

func (p *fakePublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.published {
		out = append(out, e.EventID)
	}
	return out
}

func bidRow(id int64, auctionID uuid.UUID, amount int64) BidRow {
	return BidRow{
		ID:        id,
		AuctionID: auctionID,
		BidderID:  uuid.New(),
		Amount:    decimal.NewFromInt(amount),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testConfig() ListenerConfig {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 3
	return cfg
}

func TestHandleNotification_PublishesEnvelope(t *testing.T) {
	auctionID := uuid.New()
	store := &fakeStore{}
	store.add(bidRow(5, auctionID, 110000))
	pub := &fakePublisher{}
	l := NewListener(store, newFakeNotifier(), pub, clockwork.NewRealClock(), testConfig())

	assert.NoError(t, l.handleNotification(context.Background(), "5"))

	assert.Equal(t, 1, len(pub.published))
	env := pub.published[0]
	check.Equal(t, "bid-5", env.EventID)
	check.Equal(t, events.EventTypeBidInserted, env.EventType)
	check.Equal(t, auctionID.String(), env.AuctionID)
	check.Equal(t, "110000", env.Payload.Amount.String())
	check.Equal(t, int64(5), l.LastRelayedID())

	published, _ := l.Stats()
	check.Equal(t, uint64(1), published)
}

func TestHandleNotification_InvalidPayload(t *testing.T) {
	l := NewListener(&fakeStore{}, newFakeNotifier(), &fakePublisher{}, clockwork.NewRealClock(), testConfig())
	check.Error(t, l.handleNotification(context.Background(), "not-a-number"))
	check.Error(t, l.handleNotification(context.Background(), "99"))
}

func TestPublishWithRetry_RecoversAfterFailures(t *testing.T) {
	store := &fakeStore{}
	store.add(bidRow(3, uuid.New(), 120000))
	pub := &fakePublisher{failures: 2}
	l := NewListener(store, newFakeNotifier(), pub, clockwork.NewRealClock(), testConfig())

	assert.NoError(t, l.handleNotification(context.Background(), "3"))
	check.Equal(t, 3, pub.attempts)
	check.Equal(t, []string{"bid-3"}, pub.ids())
}

func TestPublishWithRetry_GivesUp(t *testing.T) {
	store := &fakeStore{}
	store.add(bidRow(3, uuid.New(), 120000))
	pub := &fakePublisher{failures: 100}
	l := NewListener(store, newFakeNotifier(), pub, clockwork.NewRealClock(), testConfig())

	err := l.handleNotification(context.Background(), "3")
	check.Error(t, err)
	check.Equal(t, 4, pub.attempts)
	check.Equal(t, int64(0), l.LastRelayedID())
}

func TestProcessUnsent_PublishesMissedBidsInOrder(t *testing.T) {
	auctionID := uuid.New()
	store := &fakeStore{}
	pub := &fakePublisher{}
	l := NewListener(store, newFakeNotifier(), pub, clockwork.NewRealClock(), testConfig())

	store.add(bidRow(1, auctionID, 110000))
	store.add(bidRow(2, auctionID, 120000))
	store.add(bidRow(4, auctionID, 130000))

	assert.NoError(t, l.processUnsent(context.Background()))
	check.Equal(t, []string{"bid-1", "bid-2", "bid-4"}, pub.ids())
	check.Equal(t, int64(4), l.LastRelayedID())

	// Nothing new, nothing republished.
	assert.NoError(t, l.processUnsent(context.Background()))
	check.Equal(t, 3, len(pub.ids()))
}

func TestStart_RelaysOnlyNewBids(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	auctionID := uuid.New()
	store := &fakeStore{}
	store.add(bidRow(1, auctionID, 100000))
	notifier := newFakeNotifier()
	pub := &fakePublisher{notify: make(chan events.Envelope, 10)}
	l := NewListener(store, notifier, pub, clockwork.NewFakeClock(), testConfig())

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(runCtx) }()

	store.add(bidRow(2, auctionID, 110000))
	notifier.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "2"}

	select {
	case env := <-pub.notify:
		check.Equal(t, "bid-2", env.EventID)
	case <-ctx.Done():
		t.Fatal("notification was not relayed")
	}

	// A reconnect triggers a catch-up pass.
	store.add(bidRow(3, auctionID, 120000))
	notifier.ch <- nil

	select {
	case env := <-pub.notify:
		check.Equal(t, "bid-3", env.EventID)
	case <-ctx.Done():
		t.Fatal("missed bid was not relayed after reconnect")
	}

	stop()
	assert.NoError(t, <-errCh)
	check.True(t, notifier.closed)
	check.Equal(t, []string{"bid-2", "bid-3"}, pub.ids())
}

func TestToEvent_Metadata(t *testing.T) {
	row := bidRow(9, uuid.New(), 1)
	check.Nil(t, toEvent(row).Metadata)

	row.Metadata = pqtype.NullRawMessage{RawMessage: []byte(`{"source":"card"}`), Valid: true}
	check.Equal(t, `{"source":"card"}`, string(toEvent(row).Metadata))
}

func TestToEvent_CarriesAuctionSeq(t *testing.T) {
	row := bidRow(9, uuid.New(), 1)
	row.Seq = 4
	evt := toEvent(row)
	check.Equal(t, int64(9), evt.BidID)
	check.Equal(t, int64(4), evt.Seq)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(ctx context.Context) error { return p.err }

func TestHealthChecker(t *testing.T) {
	store := &fakeStore{}
	store.add(bidRow(1, uuid.New(), 1))
	store.add(bidRow(2, uuid.New(), 1))
	l := NewListener(store, newFakeNotifier(), &fakePublisher{}, clockwork.NewRealClock(), testConfig())
	assert.NoError(t, l.handleNotification(context.Background(), "1"))

	status := NewHealthChecker(l, store, fakePinger{}, nil).Check(context.Background())
	check.True(t, status.Healthy)
	check.Equal(t, int64(1), status.PendingBids)

	down := NewHealthChecker(l, store, fakePinger{err: errors.New("refused")}, func() bool { return false })
	rec := httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	check.Equal(t, http.StatusServiceUnavailable, rec.Code)
	check.Equal(t, 2, len(down.Check(context.Background()).Errors))
}
