package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TickInterval is the cadence at which the label is re-derived.
const TickInterval = time.Second

// Countdown re-derives a remaining-time label every second until the
// deadline passes or Stop is called.
type Countdown struct {
	clock    clockwork.Clock
	deadline any
	onTick   func(label string)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates a countdown. deadline may be any representation accepted by
// ParseDeadline; it is re-parsed on every tick.
func New(clock clockwork.Clock, deadline any, onTick func(label string)) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{
		clock:    clock,
		deadline: deadline,
		onTick:   onTick,
	}
}

// Start emits the current label and schedules a re-evaluation every second.
// The first label is emitted after the internal lock is released, so onTick
// may call Stop.
func (c *Countdown) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("countdown already stopped")
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}

	label, err := c.label()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if label == EndedLabel {
		c.stopped = true
		c.mu.Unlock()
		c.emit(label)
		return nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	ticker := c.clock.NewTicker(TickInterval)
	started := make(chan struct{})
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(tickCtx, ticker, started, c.done)
	c.mu.Unlock()

	c.emit(label)
	close(started)
	return nil
}

func (c *Countdown) run(ctx context.Context, ticker clockwork.Ticker, started, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	// Scheduled labels never overtake the initial one.
	select {
	case <-ctx.Done():
		return
	case <-started:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			ended, err := c.tick()
			if err != nil {
				log.Error().Err(err).Msg("countdown tick failed")
				continue
			}
			if ended {
				log.Debug().Msg("countdown reached deadline")
				return
			}
		}
	}
}

func (c *Countdown) label() (string, error) {
	deadline, err := ParseDeadline(c.deadline)
	if err != nil {
		return "", err
	}
	return Format(deadline, c.clock.Now()), nil
}

func (c *Countdown) emit(label string) {
	if c.onTick != nil {
		c.onTick(label)
	}
}

// tick computes and publishes the label. It reports whether the deadline
// has passed.
func (c *Countdown) tick() (bool, error) {
	label, err := c.label()
	if err != nil {
		return false, err
	}
	c.emit(label)
	return label == EndedLabel, nil
}

// Stop cancels the tick schedule and waits for it to exit. Safe to call more
// than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
