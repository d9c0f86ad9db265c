package submitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidwidget/go/internal/auction/ladder"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type staticIdentity struct {
	id uuid.UUID
	ok bool
}

func (s staticIdentity) Identity(ctx context.Context) (uuid.UUID, bool) { return s.id, s.ok }

type fakeBackend struct {
	mu        sync.Mutex
	bids      []models.NewBid
	purchases []uuid.UUID
	err       error
	started   chan struct{}
	release   chan struct{}
}

func (f *fakeBackend) InsertBid(ctx context.Context, bid models.NewBid) error {
	f.mu.Lock()
	f.bids = append(f.bids, bid)
	f.mu.Unlock()
	f.block()
	return f.err
}

func (f *fakeBackend) Purchase(ctx context.Context, auctionID, buyerID uuid.UUID) error {
	f.mu.Lock()
	f.purchases = append(f.purchases, buyerID)
	f.mu.Unlock()
	f.block()
	return f.err
}

func (f *fakeBackend) block() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeBackend) bidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bids)
}

type rejection struct{ reason string }

func (r *rejection) Error() string           { return "backend: " + r.reason }
func (r *rejection) RejectionReason() string { return r.reason }

var offered = ladder.Compute(decimal.NewFromInt(100000), ladder.DefaultPercents)

func newSubmitter(backend *fakeBackend, identity IdentityProvider) (*Submitter, uuid.UUID) {
	auctionID := uuid.New()
	return New(auctionID, identity, backend, backend, clockwork.NewFakeClock()), auctionID
}

func TestSubmitBid_Success(t *testing.T) {
	backend := &fakeBackend{}
	userID := uuid.New()
	s, auctionID := newSubmitter(backend, staticIdentity{id: userID, ok: true})

	action, err := s.SubmitBid(context.Background(), decimal.NewFromInt(120000), offered)
	assert.NoError(t, err)

	check.Equal(t, models.ActionStatusSucceeded, action.Status)
	check.Equal(t, models.ActionKindBid, action.Kind)
	check.Equal(t, "120000", action.Amount.String())
	check.Equal(t, 1, backend.bidCount())
	check.Equal(t, auctionID, backend.bids[0].AuctionID)
	check.Equal(t, userID, backend.bids[0].BidderID)

	_, pending := s.Pending()
	check.False(t, pending)
}

func TestSubmitBid_RejectsAmountOutsideLadder(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newSubmitter(backend, staticIdentity{id: uuid.New(), ok: true})

	_, err := s.SubmitBid(context.Background(), decimal.NewFromInt(125000), offered)

	var verr *ValidationError
	check.True(t, errors.As(err, &verr))
	check.Equal(t, 0, backend.bidCount())
}

func TestSubmitBid_RequiresIdentity(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newSubmitter(backend, staticIdentity{})

	_, err := s.SubmitBid(context.Background(), decimal.NewFromInt(110000), offered)

	var aerr *AuthenticationError
	check.True(t, errors.As(err, &aerr))
	check.Equal(t, 0, backend.bidCount())

	_, err = s.BuyNow(context.Background(), decimal.NewFromInt(150000))
	check.True(t, errors.As(err, &aerr))
	check.Equal(t, 0, len(backend.purchases))
}

func TestSubmitBid_BackendReasonVerbatim(t *testing.T) {
	backend := &fakeBackend{err: &rejection{reason: "bid must exceed current highest bid of 130000"}}
	s, _ := newSubmitter(backend, staticIdentity{id: uuid.New(), ok: true})

	action, err := s.SubmitBid(context.Background(), decimal.NewFromInt(120000), offered)

	var berr *BackendError
	assert.True(t, errors.As(err, &berr))
	check.Equal(t, "bid must exceed current highest bid of 130000", berr.Reason)
	check.Equal(t, "bid must exceed current highest bid of 130000", err.Error())
	check.Equal(t, models.ActionStatusFailed, action.Status)

	// Failure clears the pending action so the user can retry manually.
	_, pending := s.Pending()
	check.False(t, pending)
	backend.err = nil
	_, err = s.SubmitBid(context.Background(), decimal.NewFromInt(120000), offered)
	check.NoError(t, err)
	check.Equal(t, 2, backend.bidCount())
}

func TestSubmitBid_NetworkErrorMessage(t *testing.T) {
	backend := &fakeBackend{err: errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")}
	s, _ := newSubmitter(backend, staticIdentity{id: uuid.New(), ok: true})

	_, err := s.SubmitBid(context.Background(), decimal.NewFromInt(110000), offered)

	var berr *BackendError
	assert.True(t, errors.As(err, &berr))
	check.Equal(t, "dial tcp 10.0.0.5:5432: connect: connection refused", berr.Reason)
}

func TestSubmit_ReentrancyGuard(t *testing.T) {
	backend := &fakeBackend{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newSubmitter(backend, staticIdentity{id: uuid.New(), ok: true})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = s.SubmitBid(context.Background(), decimal.NewFromInt(110000), offered)
	}()

	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first submission never reached the backend")
	}

	pending, ok := s.Pending()
	check.True(t, ok)
	check.Equal(t, models.ActionStatusInFlight, pending.Status)

	_, err := s.SubmitBid(context.Background(), decimal.NewFromInt(120000), offered)
	check.True(t, errors.Is(err, ErrActionInFlight))
	_, err = s.BuyNow(context.Background(), decimal.NewFromInt(150000))
	check.True(t, errors.Is(err, ErrActionInFlight))
	// Even an invalid amount is a no-op while in flight.
	_, err = s.SubmitBid(context.Background(), decimal.NewFromInt(1), offered)
	check.True(t, errors.Is(err, ErrActionInFlight))

	close(backend.release)
	wg.Wait()

	check.NoError(t, firstErr)
	check.Equal(t, 1, backend.bidCount())
	check.Equal(t, 0, len(backend.purchases))
}

func TestBuyNow_Success(t *testing.T) {
	backend := &fakeBackend{}
	userID := uuid.New()
	s, _ := newSubmitter(backend, staticIdentity{id: userID, ok: true})

	action, err := s.BuyNow(context.Background(), decimal.NewFromInt(180000))
	assert.NoError(t, err)

	check.Equal(t, models.ActionKindPurchase, action.Kind)
	check.Equal(t, models.ActionStatusSucceeded, action.Status)
	check.Equal(t, "180000", action.Amount.String())
	check.Equal(t, []uuid.UUID{userID}, backend.purchases)
}

func TestSubmit_OnChange(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := newSubmitter(backend, staticIdentity{id: uuid.New(), ok: true})

	var seen []bool
	s.OnChange(func() {
		_, pending := s.Pending()
		seen = append(seen, pending)
	})

	_, err := s.SubmitBid(context.Background(), decimal.NewFromInt(130000), offered)
	assert.NoError(t, err)
	check.Equal(t, []bool{true, false}, seen)
}
