package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/bidwidget/go/internal/auction/submitter"
	"github.com/shopspring/decimal"
)

// MessageType is the type of a message on the auction socket.
type MessageType string

const (
	// Server to client
	MessageTypeState        MessageType = "state"
	MessageTypeNotification MessageType = "notification"

	// Client to server
	MessageTypePlaceBid MessageType = "place_bid"
	MessageTypeBuyNow   MessageType = "buy_now"
)

// ServerMessage is pushed to the client.
type ServerMessage struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// ClientMessage is a command sent by the client.
type ClientMessage struct {
	Type   MessageType `json:"type"`
	Amount string      `json:"amount,omitempty"`
}

// Command is a parsed client message.
type Command struct {
	Type   MessageType
	Amount decimal.Decimal
}

// ParseClientMessage decodes and validates a client message.
func ParseClientMessage(data []byte) (Command, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Command{}, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case MessageTypePlaceBid:
		if strings.TrimSpace(msg.Amount) == "" {
			return Command{}, fmt.Errorf("place_bid requires an amount")
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(msg.Amount))
		if err != nil {
			return Command{}, fmt.Errorf("invalid amount %q", msg.Amount)
		}
		return Command{Type: msg.Type, Amount: amount}, nil
	case MessageTypeBuyNow:
		return Command{Type: msg.Type}, nil
	default:
		return Command{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// Identity is a fixed bidder identity resolved when the socket opened.
type Identity struct {
	UserID uuid.UUID
	Valid  bool
}

var _ submitter.IdentityProvider = Identity{}

func (i Identity) Identity(ctx context.Context) (uuid.UUID, bool) {
	return i.UserID, i.Valid
}

// IdentityFromRequest reads the bidder id from the X-User-ID header or the
// user_id query parameter. Missing or malformed ids give no identity; the
// socket is still allowed so bids fail with an authentication error.
func IdentityFromRequest(r *http.Request) Identity {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	if raw == "" {
		return Identity{}
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return Identity{}
	}
	return Identity{UserID: id, Valid: true}
}
