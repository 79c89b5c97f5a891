// Package webhook authenticates YengaPay payment callbacks and applies the
// resulting order-state change exactly once.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kreezus/yengapay-gateway/internal/common"
	"github.com/kreezus/yengapay-gateway/internal/lock"
	"github.com/kreezus/yengapay-gateway/internal/order"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

// State tracks how far a delivery travelled before terminating. Every
// delivery ends in StateApplied or StateRejected; the intermediate states
// identify where a rejection happened.
type State int

const (
	StateReceived State = iota
	StateAuthenticated
	StateParsed
	StateResolved
	StateApplied
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateAuthenticated:
		return "authenticated"
	case StateParsed:
		return "parsed"
	case StateResolved:
		return "resolved"
	case StateApplied:
		return "applied"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Rejection reasons returned to the gateway. Auth failures share the same
// response shape as the rest so a caller probing the endpoint cannot tell
// whether an order exists.
const (
	ReasonEmptyPayload  = "empty payload"
	ReasonMissingHeader = "missing header"
	ReasonMissingSecret = "missing secret"
	ReasonBadSignature  = "signature mismatch"
	ReasonMalformed     = "malformed payload"
	ReasonOrderNotFound = "order not found"
	ReasonUnknownStatus = "unknown status"
	ReasonStoreFailure  = "processing failed"
)

// Result is the terminal outcome of one delivery.
type Result struct {
	State State
	// FailedAt is the state the delivery reached before rejection.
	FailedAt State
	Reason   string
	// Mutated reports whether the order was actually written. Replays and
	// out-of-order deliveries are acknowledged without mutation.
	Mutated bool
	Order   order.Order
}

// Applied reports whether the delivery was accepted (with or without a mutation).
func (r Result) Applied() bool {
	return r.State == StateApplied
}

// Payload is the webhook body. Only signature-verified bodies are parsed.
type Payload struct {
	Reference     string `json:"reference" validate:"required"`
	PaymentStatus string `json:"paymentStatus" validate:"required"`
	TransactionID string `json:"id"`
}

// OrderStore is the slice of the order store the dispatcher mutates through.
type OrderStore interface {
	GetByReference(ctx context.Context, reference string) (order.Order, error)
	Transition(ctx context.Context, in order.TransitionInput) (order.Order, error)
}

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var validate = validator.New()

// Dispatcher processes one delivery at a time as a small state machine:
// authenticate the raw body, parse it, resolve the order by reference, then
// apply the mapped status under a per-order lock with a compare-and-set
// write. All failure paths collapse into a Result; nothing escapes to the
// transport layer.
type Dispatcher struct {
	Secret    string
	Orders    OrderStore
	Locks     *lock.Locker
	LockTTL   time.Duration
	Replay    replayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Process runs the full verification and application sequence for one delivery.
func (d *Dispatcher) Process(ctx context.Context, signature string, body []byte) Result {
	if res, ok := d.authenticate(signature, body); !ok {
		return res
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return d.reject(StateAuthenticated, ReasonMalformed, body, err)
	}
	if err := validate.Struct(&payload); err != nil {
		return d.reject(StateAuthenticated, ReasonMalformed, body, err)
	}

	var replayKey string
	if d.Replay != nil && d.ReplayTTL > 0 {
		replayKey = "ypwh:" + common.Sha256Hex(body)
		fresh, err := d.Replay.SetNX(ctx, replayKey, "1", d.ReplayTTL).Result()
		if err != nil {
			// replay protection is advisory; the compare-and-set below
			// still guarantees exactly-once application
			d.Logger.Warn().Err(err).Msg("webhook replay store unavailable")
			replayKey = ""
		} else if !fresh {
			d.Logger.Info().Str("reference", payload.Reference).Msg("duplicate webhook delivery ignored")
			return Result{State: StateApplied, Mutated: false}
		}
	}

	var result Result
	apply := func(ctx context.Context) error {
		result = d.resolveAndApply(ctx, payload, body)
		return nil
	}
	if d.Locks != nil {
		if err := d.Locks.WithLock(ctx, "order:"+payload.Reference, d.lockTTL(), apply); err != nil {
			result = d.reject(StateParsed, ReasonStoreFailure, body, err)
		}
	} else {
		_ = apply(ctx)
	}
	// a rejected delivery must stay retryable: the gateway resends the
	// identical body and that retry is the only recovery path
	if result.State == StateRejected && replayKey != "" {
		if err := d.Replay.Del(ctx, replayKey).Err(); err != nil {
			d.Logger.Warn().Err(err).Str("reference", payload.Reference).Msg("webhook replay key not released")
		}
	}
	return result
}

func (d *Dispatcher) authenticate(signature string, body []byte) (Result, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return d.reject(StateReceived, ReasonEmptyPayload, body, nil), false
	}
	if strings.TrimSpace(signature) == "" {
		return d.reject(StateReceived, ReasonMissingHeader, body, nil), false
	}
	if strings.TrimSpace(d.Secret) == "" {
		// a misconfigured secret is an authentication failure, never a pass
		return d.reject(StateReceived, ReasonMissingSecret, body,
			errors.New("webhook secret is not configured")), false
	}
	if !yengapay.VerifySignature(d.Secret, body, signature) {
		return d.reject(StateReceived, ReasonBadSignature, body, nil), false
	}
	return Result{}, true
}

func (d *Dispatcher) resolveAndApply(ctx context.Context, payload Payload, body []byte) Result {
	ord, err := d.Orders.GetByReference(ctx, payload.Reference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return d.reject(StateParsed, ReasonOrderNotFound, body, nil)
		}
		return d.reject(StateParsed, ReasonStoreFailure, body, err)
	}

	target, comment, ok := mapPaymentStatus(payload)
	if !ok {
		return d.reject(StateResolved, ReasonUnknownStatus, body,
			fmt.Errorf("payment status %q", payload.PaymentStatus))
	}

	switch order.Decide(ord.Status, target) {
	case order.Noop:
		d.Logger.Info().
			Str("reference", ord.Reference).
			Str("current", string(ord.Status)).
			Str("target", string(target)).
			Msg("webhook transition skipped")
		return Result{State: StateApplied, Mutated: false, Order: ord}
	case order.Apply:
	}

	updated, err := d.Orders.Transition(ctx, order.TransitionInput{
		OrderID:       ord.ID,
		From:          ord.Status,
		To:            target,
		Comment:       comment,
		Note:          comment,
		TransactionID: transactionIDFor(payload, target),
	})
	if err != nil {
		if errors.Is(err, order.ErrStatusConflict) {
			// a concurrent delivery won the compare-and-set; acknowledge
			d.Logger.Info().Str("reference", ord.Reference).Msg("webhook lost status race")
			return Result{State: StateApplied, Mutated: false, Order: ord}
		}
		return d.reject(StateResolved, ReasonStoreFailure, body, err)
	}

	d.Logger.Info().
		Str("reference", updated.Reference).
		Str("status", string(updated.Status)).
		Str("transaction_id", updated.TransactionID).
		Msg("webhook applied")
	return Result{State: StateApplied, Mutated: true, Order: updated}
}

func (d *Dispatcher) reject(failedAt State, reason string, body []byte, err error) Result {
	evt := d.Logger.Warn().
		Str("state", failedAt.String()).
		Str("reason", reason).
		Str("payload", string(body))
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("webhook rejected")
	return Result{State: StateRejected, FailedAt: failedAt, Reason: reason}
}

func (d *Dispatcher) lockTTL() time.Duration {
	if d.LockTTL <= 0 {
		return 10 * time.Second
	}
	return d.LockTTL
}

// mapPaymentStatus translates a gateway payment status into the target order
// status and its history comment.
func mapPaymentStatus(payload Payload) (order.Status, string, bool) {
	switch payload.PaymentStatus {
	case "DONE":
		comment := "YengaPay payment confirmed."
		if payload.TransactionID != "" {
			comment += " Transaction ID: " + payload.TransactionID
		}
		return order.StatusPaid, comment, true
	case "PENDING":
		return order.StatusAwaitingPayment, "YengaPay payment awaiting confirmation.", true
	case "FAILED":
		return order.StatusPaymentError, "YengaPay payment failed.", true
	case "CANCELLED":
		return order.StatusCanceled, "YengaPay payment cancelled by the customer.", true
	default:
		return "", "", false
	}
}

func transactionIDFor(payload Payload, target order.Status) string {
	if target != order.StatusPaid {
		return ""
	}
	return strings.TrimSpace(payload.TransactionID)
}
