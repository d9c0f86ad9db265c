package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionKind distinguishes the two user actions a card can submit.
type ActionKind string

const (
	ActionKindBid      ActionKind = "BID"
	ActionKindPurchase ActionKind = "PURCHASE"
)

// ActionStatus is the status of a pending action.
type ActionStatus string

const (
	ActionStatusInFlight  ActionStatus = "IN_FLIGHT"
	ActionStatusSucceeded ActionStatus = "SUCCEEDED"
	ActionStatusFailed    ActionStatus = "FAILED"
)

// PendingAction is the single outstanding submission of a card.
type PendingAction struct {
	Kind      ActionKind      `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Status    ActionStatus    `json:"status"`
	StartedAt time.Time       `json:"started_at"`
}

// NotificationLevel is the severity shown to the user.
type NotificationLevel string

const (
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is a dismissible message surfaced to the user.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Amount  *decimal.Decimal  `json:"amount,omitempty"`
}
