package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kreezus/yengapay-gateway/internal/cart"
	"github.com/kreezus/yengapay-gateway/internal/obs"
	"github.com/kreezus/yengapay-gateway/internal/order"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

// CartReader loads the snapshot for a checkout attempt.
type CartReader interface {
	Snapshot(ctx context.Context, cartID uuid.UUID) (cart.Snapshot, error)
}

// OrderCreator creates the local order record before the gateway is called.
type OrderCreator interface {
	Create(ctx context.Context, cartID uuid.UUID, currency string, total int64) (order.Order, error)
}

// IntentCreator issues the payment-intent call.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req yengapay.IntentRequest) (yengapay.IntentResponse, error)
}

// Service drives one checkout attempt end to end. The sequence is fixed:
// validate the snapshot, create the order so a stable reference exists, build
// the intent against that reference, then call the gateway. A gateway failure
// after order creation is recoverable: the order stays AWAITING_PAYMENT and
// the shopper can try again from checkout.
type Service struct {
	Carts          CartReader
	Orders         OrderCreator
	Gateway        IntentCreator
	Currency       string
	Locale         string
	GatewayTimeout time.Duration
	Logger         zerolog.Logger
}

// Pay runs the checkout flow for a cart and returns the hosted checkout URL.
func (s *Service) Pay(ctx context.Context, cartID uuid.UUID) (string, error) {
	if s == nil || s.Carts == nil || s.Orders == nil || s.Gateway == nil {
		return "", errors.New("checkout: service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Pay")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	result := "error"
	defer func() {
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(result).Inc()
		}
	}()

	snap, err := s.Carts.Snapshot(ctx, cartID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := snap.Validate(); err != nil {
		return "", err
	}

	currency := snap.Currency
	if currency == "" {
		currency = s.Currency
	}
	ord, err := s.Orders.Create(ctx, cartID, currency, snap.Total)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("order.reference", ord.Reference))

	req, err := yengapay.BuildIntent(snap, ord.Reference, s.Locale)
	if err != nil {
		return "", err
	}

	callCtx := ctx
	if s.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.GatewayTimeout)
		defer cancel()
	}
	resp, err := s.Gateway.CreateIntent(callCtx, req)
	if err != nil {
		// the order stays awaiting payment; log and surface
		s.Logger.Error().Err(err).
			Str("cart_id", cartID.String()).
			Str("reference", ord.Reference).
			Msg("payment intent creation failed")
		span.RecordError(err)
		return "", err
	}

	result = "success"
	s.Logger.Info().
		Str("cart_id", cartID.String()).
		Str("reference", ord.Reference).
		Int64("amount", snap.Total).
		Msg("payment intent created")
	return resp.CheckoutPageURLWithPaymentToken, nil
}
