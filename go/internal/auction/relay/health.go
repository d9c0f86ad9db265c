package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsPublished   uint64    `json:"events_published"`
	LastEventTime     time.Time `json:"last_event_time"`
	LastRelayedBidID  int64     `json:"last_relayed_bid_id"`
	PendingBids       int64     `json:"pending_bids"`
	DatabaseConnected bool      `json:"database_connected"`
	BusConnected      bool      `json:"bus_connected"`
	Errors            []string  `json:"errors"`
}

// Pinger checks a dependency. *sql.DB satisfies it via PingContext.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker reports on the listener, the database and the bus.
type HealthChecker struct {
	listener *Listener
	store    BidStore
	db       Pinger
	busUp    func() bool
}

// NewHealthChecker creates a checker. busUp may be nil when no bus is used.
func NewHealthChecker(listener *Listener, store BidStore, db Pinger, busUp func() bool) *HealthChecker {
	return &HealthChecker{listener: listener, store: store, db: db, busUp: busUp}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:      true,
		BusConnected: true,
		Errors:       []string{},
	}

	status.EventsPublished, status.LastEventTime = h.listener.Stats()
	status.LastRelayedBidID = h.listener.LastRelayedID()

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
		latest, err := h.store.LatestBidID(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to read latest bid id: %v", err))
		} else if latest > status.LastRelayedBidID {
			status.PendingBids = latest - status.LastRelayedBidID
		}
	}

	if h.busUp != nil && !h.busUp() {
		status.BusConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "bus disconnected")
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
