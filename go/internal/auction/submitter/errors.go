package submitter

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrActionInFlight is returned when a submission is attempted while another
// one from the same card is still pending. Callers treat it as a no-op.
var ErrActionInFlight = errors.New("an action is already in flight")

// ValidationError is a locally rejected submission. It never reaches the
// backend.
type ValidationError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bid amount %s: %s", e.Amount, e.Reason)
}

// AuthenticationError means no identity was available at submit time.
type AuthenticationError struct{}

func (e *AuthenticationError) Error() string {
	return "you must be signed in to place a bid or buy now"
}

// BackendError carries the backend's rejection reason verbatim.
type BackendError struct {
	Reason string
	Err    error
}

func (e *BackendError) Error() string {
	return e.Reason
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ReasonCarrier is implemented by collaborator errors that hold a
// user-facing rejection reason.
type ReasonCarrier interface {
	error
	RejectionReason() string
}

func newBackendError(err error) *BackendError {
	var rc ReasonCarrier
	if errors.As(err, &rc) {
		return &BackendError{Reason: rc.RejectionReason(), Err: err}
	}
	return &BackendError{Reason: err.Error(), Err: err}
}
