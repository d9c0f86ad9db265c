package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// NotifyChannel is the channel the bids trigger notifies with the new id.
const NotifyChannel = "bid_inserted"

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed bids
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // Max bids to fetch per fallback pass
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      "",
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// BidStore is the read side the listener needs.
type BidStore interface {
	BidByID(ctx context.Context, id int64) (BidRow, error)
	BidsAfter(ctx context.Context, afterID int64, limit int) ([]BidRow, error)
	LatestBidID(ctx context.Context) (int64, error)
}

// Notifier is the LISTEN connection. *pq.Listener satisfies it.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

var _ Notifier = (*pq.Listener)(nil)

// NewPQNotifier opens a pq.Listener on the configured channel.
func NewPQNotifier(cfg ListenerConfig) (*pq.Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")
	return l, nil
}

// Listener relays bid inserts to the bus, at least once. Notifications
// carry the bid id; a fallback pass republishes anything above the last
// relayed id that a lost notification skipped.
type Listener struct {
	store     BidStore
	notifier  Notifier
	publisher Publisher
	clock     clockwork.Clock
	cfg       ListenerConfig

	mu        sync.Mutex
	lastID    int64
	published uint64
	lastAt    time.Time
}

func NewListener(store BidStore, notifier Notifier, publisher Publisher, clock clockwork.Clock, cfg ListenerConfig) *Listener {
	return &Listener{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

// Stats returns the number of bids published and when the last one was.
func (l *Listener) Stats() (uint64, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published, l.lastAt
}

// LastRelayedID returns the highest bid id published so far.
func (l *Listener) LastRelayedID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Start runs until ctx is done. Bids that exist before Start are not
// relayed; cards seed themselves with a fetch.
func (l *Listener) Start(ctx context.Context) error {
	latest, err := l.store.LatestBidID(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.lastID = latest
	l.mu.Unlock()

	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Int64("from_bid_id", latest).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	notes := l.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note, ok := <-notes:
			if !ok {
				return errors.New("notification channel closed")
			}
			if note == nil {
				// nil notification means the connection was re-established;
				// catch up on whatever was inserted meanwhile.
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent bids after reconnect")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent bids")
			}
		case <-pingTicker.Chan():
			if err := l.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.notifier.Close()
}

// handleNotification loads the notified bid and publishes it. Extra is the
// bid id.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := strconv.ParseInt(extra, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid bid id in notification %q: %w", extra, err)
	}

	row, err := l.store.BidByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch bid: %w", err)
	}

	if err := l.publishWithRetry(ctx, row); err != nil {
		return fmt.Errorf("failed to publish bid: %w", err)
	}
	return nil
}

// processUnsent publishes bids above the last relayed id.
func (l *Listener) processUnsent(ctx context.Context) error {
	rows, err := l.store.BidsAfter(ctx, l.LastRelayedID(), l.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent bids: %w", err)
	}

	for _, row := range rows {
		if err := l.publishWithRetry(ctx, row); err != nil {
			log.Error().Err(err).Int64("bid_id", row.ID).Msg("failed to publish bid")
			// Later ids must not move the watermark past this one.
			return nil
		}
	}
	return nil
}

// publishWithRetry attempts to publish a bid with a given retry delay and max retries.
func (l *Listener) publishWithRetry(ctx context.Context, row BidRow) error {
	env := events.NewEnvelope(toEvent(row), l.clock.Now().UTC())
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, env); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", env.EventID).
				Msg("failed to publish, retrying")
			continue
		}

		l.markRelayed(row.ID)
		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", env.EventID).
				Msg("publish succeeded after retry")
		}
		log.Info().
			Str("event_id", env.EventID).
			Str("auction_id", env.AuctionID).
			Msg("published bid event")
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}

func (l *Listener) markRelayed(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id > l.lastID {
		l.lastID = id
	}
	l.published++
	l.lastAt = l.clock.Now()
}

func toEvent(row BidRow) events.BidInserted {
	evt := events.BidInserted{
		BidID:     row.ID,
		Seq:       row.Seq,
		AuctionID: row.AuctionID,
		BidderID:  row.BidderID,
		Amount:    row.Amount,
		CreatedAt: row.CreatedAt,
	}
	if row.Metadata.Valid && json.Valid(row.Metadata.RawMessage) {
		evt.Metadata = row.Metadata.RawMessage
	}
	return evt
}
