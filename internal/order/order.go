package order

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates the merchant-side order states touched by the payment flow.
type Status string

const (
	// StatusAwaitingPayment marks an order created before the shopper was
	// sent to the hosted checkout page. A gateway failure leaves the order
	// here, which is the intended recoverable state.
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusPaymentError    Status = "PAYMENT_ERROR"
	StatusCanceled        Status = "CANCELED"
)

// Terminal reports whether the status is final. A terminal order never moves
// back to AWAITING_PAYMENT, so a late-arriving PENDING webhook cannot undo a
// confirmed payment.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusPaymentError, StatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusPaid, StatusPaymentError, StatusCanceled:
		return true
	default:
		return false
	}
}

// Decision is the outcome of evaluating a requested status transition.
type Decision int

const (
	// Apply means the transition mutates the order.
	Apply Decision = iota
	// Noop means the delivery is acknowledged without mutation: either a
	// replay landing on the current status or an out-of-order delivery
	// against a terminal status.
	Noop
)

// Decide evaluates a transition from current to target. Applying the same
// status twice and moving a terminal order are both no-ops; everything else
// is applied.
func Decide(current, target Status) Decision {
	if current == target {
		return Noop
	}
	if current.Terminal() {
		return Noop
	}
	return Apply
}

// Order is the merchant-side record for one checkout attempt.
type Order struct {
	ID            uuid.UUID
	Reference     string
	CartID        uuid.UUID
	Status        Status
	Currency      string
	Total         int64
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HistoryEntry is one append-only status change with its comment.
type HistoryEntry struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    Status
	Comment   string
	CreatedAt time.Time
}
