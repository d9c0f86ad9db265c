package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/bidwidget/go/internal/auction/events"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/rs/zerolog/log"
)

var _ reconciler.ChangeFeed = (*PostgresFeed)(nil)

// PostgresConfig configures the LISTEN connections.
type PostgresConfig struct {
	DatabaseURL          string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DatabaseURL:          dsn,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// Notifier is one LISTEN connection. *pq.Listener satisfies it.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

var _ Notifier = (*pq.Listener)(nil)

// NotifierFactory opens a Notifier listening on channel.
type NotifierFactory func(channel string) (Notifier, error)

// PQNotifierFactory opens a pq.Listener per subscription.
func PQNotifierFactory(cfg PostgresConfig) NotifierFactory {
	return func(channel string) (Notifier, error) {
		l := pq.NewListener(
			cfg.DatabaseURL,
			cfg.MinReconnectInterval,
			cfg.MaxReconnectInterval,
			func(ev pq.ListenerEventType, err error) {
				if err != nil {
					log.Error().Err(err).Str("channel", channel).Msg("listener event")
				}
			},
		)
		if err := l.Listen(channel); err != nil {
			_ = l.Close()
			return nil, err
		}
		return l, nil
	}
}

// PostgresFeed listens on the per-auction channel notified by the bids
// trigger. Each subscription owns its own Notifier.
type PostgresFeed struct {
	cfg    PostgresConfig
	clock  clockwork.Clock
	listen NotifierFactory
}

func NewPostgresFeed(cfg PostgresConfig, clock clockwork.Clock) *PostgresFeed {
	return NewPostgresFeedWithNotifier(cfg, clock, PQNotifierFactory(cfg))
}

func NewPostgresFeedWithNotifier(cfg PostgresConfig, clock clockwork.Clock, listen NotifierFactory) *PostgresFeed {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPostgresConfig(cfg.DatabaseURL).PingInterval
	}
	return &PostgresFeed{cfg: cfg, clock: clock, listen: listen}
}

func (f *PostgresFeed) Subscribe(ctx context.Context, auctionID uuid.UUID, handler func(events.BidInserted)) (reconciler.Subscription, error) {
	channel := events.PostgresChannel(auctionID)

	l, err := f.listen(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to listen to channel %s: %w", channel, err)
	}

	sub := newSubscription(auctionID, handler)
	sub.release = l.Close

	go f.run(ctx, l, sub)

	log.Debug().
		Str("auction_id", auctionID.String()).
		Str("channel", channel).
		Msg("Postgres bid subscription started")
	return sub, nil
}

func (f *PostgresFeed) run(ctx context.Context, l Notifier, sub *subscription) {
	defer sub.finish()

	pingTicker := f.clock.NewTicker(f.cfg.PingInterval)
	defer pingTicker.Stop()

	notes := l.NotificationChannel()
	for {
		select {
		case <-sub.stop:
			return
		case <-ctx.Done():
			_ = sub.releaseTransport()
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			if note == nil {
				// nil notification means the connection was re-established;
				// anything sent while it was down is lost, so refetch.
				sub.deliver(events.BidInserted{AuctionID: sub.auctionID})
				continue
			}
			sub.deliver(decodeHint(sub.auctionID, []byte(note.Extra)))
		case <-pingTicker.Chan():
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}
