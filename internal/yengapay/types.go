// Package yengapay implements the client side of the YengaPay hosted-checkout
// API: building payment-intent requests from a cart snapshot, issuing the
// signed intent call and verifying webhook signatures.
package yengapay

import "fmt"

// Article is one line item of a payment intent, in the gateway's schema.
type Article struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Pictures    []string `json:"pictures"`
	Price       int64    `json:"price"`
}

// IntentRequest is the payment-intent creation payload. Reference is the
// merchant order reference, assigned when the local order is created and
// echoed back in the webhook.
type IntentRequest struct {
	PaymentAmount int64     `json:"paymentAmount"`
	Reference     string    `json:"reference"`
	Articles      []Article `json:"articles"`
}

// IntentResponse is the subset of the gateway response the flow needs. The
// checkout URL is the redirect target for the shopper; its absence is a hard
// failure regardless of HTTP status.
type IntentResponse struct {
	CheckoutPageURLWithPaymentToken string `json:"checkoutPageUrlWithPaymentToken"`
}

// GatewayError reports a failed intent call: a non-2xx status, an unparsable
// body or a response without a checkout URL.
type GatewayError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("yengapay: gateway error (%d): %s", e.StatusCode, e.Body)
}
