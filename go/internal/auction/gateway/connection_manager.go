package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidwidget/go/internal/auction/reconciler"
	"github.com/mcdev12/bidwidget/go/internal/auction/submitter"
	"github.com/mcdev12/bidwidget/go/internal/auction/widget"
	"github.com/mcdev12/bidwidget/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AuctionLoader loads the auction a socket is opened for.
type AuctionLoader interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
}

// Backend holds the collaborators every card is built from.
type Backend struct {
	Auctions  AuctionLoader
	Fetcher   reconciler.HighestBidFetcher
	Feed      reconciler.ChangeFeed
	Bids      submitter.BidWriter
	Purchases submitter.Purchaser
	Policy    widget.Policy
	Clock     clockwork.Clock
}

// ConnectionManager manages WebSocket connections, one auction card each.
type ConnectionManager struct {
	// Connection pools organized by auction ID
	auctionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	backend  Backend

	// Actions run on this context so closing a socket does not cancel a
	// request that is already on the wire.
	actionCtx    context.Context
	cancelAction context.CancelFunc
	actions      sync.WaitGroup
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	Identity  Identity
	AuctionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager
	Card      *widget.Card

	// Connection metadata
	ConnectedAt time.Time

	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	ActionTimeout   time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		ActionTimeout:   15 * time.Second,
		MaxMessageSize:  1024, // 1KB max message size
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS layer in front of the gateway.
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, backend Backend) *ConnectionManager {
	if backend.Clock == nil {
		backend.Clock = clockwork.NewRealClock()
	}
	actionCtx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		auctionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:       config,
		backend:      backend,
		actionCtx:    actionCtx,
		cancelAction: cancel,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and mounts a
// card for the auction on it.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity Identity, auction models.Auction) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		AuctionID:   auction.ID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: cm.backend.Clock.Now(),
	}
	connection.Card = widget.New(widget.Deps{
		Auction:   auction,
		Policy:    cm.backend.Policy,
		Clock:     cm.backend.Clock,
		Fetcher:   cm.backend.Fetcher,
		Feed:      cm.backend.Feed,
		Bids:      cm.backend.Bids,
		Purchases: cm.backend.Purchases,
		Identity:  identity,
		Sink:      connection,
	})

	cm.registerConnection(connection)

	go connection.writePump()

	// The card lives as long as the socket; Teardown stops it.
	if err := connection.Card.Mount(context.Background()); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", connection.ID).
			Str("auction_id", auction.ID.String()).
			Msg("failed to mount auction card")
		connection.close()
		return nil
	}

	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Bool("identified", identity.Valid).
		Str("auction_id", auction.ID.String()).
		Msg("WebSocket connection established")
	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.auctionConnections[conn.AuctionID] == nil {
		cm.auctionConnections[conn.AuctionID] = make(map[*Connection]bool)
	}
	cm.auctionConnections[conn.AuctionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", conn.AuctionID.String()).
		Int("total_connections", len(cm.auctionConnections[conn.AuctionID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.auctionConnections[conn.AuctionID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)

			// Clean up empty auction connection pools
			if len(connections) == 0 {
				delete(cm.auctionConnections, conn.AuctionID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("auction_id", conn.AuctionID.String()).
				Msg("connection unregistered")
		}
	}
}

// ConnectionStats is the payload of the stats endpoint.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveAuctions     int            `json:"active_auctions"`
	AuctionConnections map[string]int `json:"auction_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveAuctions:     len(cm.auctionConnections),
		AuctionConnections: make(map[string]int),
	}
	for auctionID, connections := range cm.auctionConnections {
		stats.TotalConnections += len(connections)
		stats.AuctionConnections[auctionID.String()] = len(connections)
	}
	return stats
}

// Shutdown closes every connection, cancels running actions and waits for
// them to return.
func (cm *ConnectionManager) Shutdown() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.auctionConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		conn.close()
	}
	cm.cancelAction()
	cm.actions.Wait()
}

var _ widget.Sink = (*Connection)(nil)

// ViewChanged implements widget.Sink.
func (c *Connection) ViewChanged(view widget.View) {
	c.push(ServerMessage{Type: MessageTypeState, Data: view})
}

// Notify implements widget.Sink.
func (c *Connection) Notify(n models.Notification) {
	c.push(ServerMessage{Type: MessageTypeNotification, Data: n})
}

func (c *Connection) push(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal message")
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		c.closed = true
		close(c.Send)
	}
}

// close tears down the card and the socket. Safe to call from either pump.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.Manager.unregisterConnection(c)
		c.Card.Teardown()

		c.sendMu.Lock()
		if !c.closed {
			c.closed = true
			close(c.Send)
		}
		c.sendMu.Unlock()
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				go c.close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				go c.close()
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage dispatches a command. Actions run off the read loop
// so pings and further commands are still read while one is in flight.
func (c *Connection) handleClientMessage(message []byte) {
	cmd, err := ParseClientMessage(message)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("rejected client message")
		c.Notify(models.Notification{
			Level:   models.NotificationError,
			Title:   "Invalid message",
			Message: err.Error(),
		})
		return
	}

	cm := c.Manager
	cm.actions.Add(1)
	go func() {
		defer cm.actions.Done()
		ctx, cancel := context.WithTimeout(cm.actionCtx, cm.config.ActionTimeout)
		defer cancel()

		var err error
		switch cmd.Type {
		case MessageTypePlaceBid:
			err = c.Card.PlaceBid(ctx, cmd.Amount)
		case MessageTypeBuyNow:
			err = c.Card.BuyNow(ctx)
		}
		if err != nil {
			log.Debug().
				Err(err).
				Str("connection_id", c.ID).
				Str("command", string(cmd.Type)).
				Msg("auction action failed")
		}
	}()
}
