package cart

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kreezus/yengapay-gateway/internal/common"
)

// Item is one ordered line of a cart. Title and description are keyed by
// locale id; the intent builder picks the active locale and falls back to an
// empty string for missing translations.
type Item struct {
	Title       map[string]string
	Description map[string]string
	Images      []string
	UnitPrice   int64
	Qty         int32
	LineTotal   int64
}

// Snapshot is an immutable read of a shopping cart taken once per checkout
// attempt. Amounts are minor units of the settlement currency.
type Snapshot struct {
	ID                uuid.UUID
	CustomerID        int64
	DeliveryAddressID int64
	InvoiceAddressID  int64
	Currency          string
	Items             []Item
	Total             int64
}

// Validate gates the payment flow: a cart without a customer or complete
// address pair must be bounced back to checkout before any order or network
// action happens.
func (s Snapshot) Validate() error {
	if s.CustomerID == 0 || s.DeliveryAddressID == 0 || s.InvoiceAddressID == 0 {
		return common.NewAppError(common.CodeInvalidCartState,
			"cart is missing customer or address identifiers", http.StatusBadRequest, nil)
	}
	return nil
}

// LocalizedTitle returns the item title for the locale, empty when absent.
func (i Item) LocalizedTitle(locale string) string {
	return i.Title[locale]
}

// LocalizedDescription returns the item description for the locale, empty when absent.
func (i Item) LocalizedDescription(locale string) string {
	return i.Description[locale]
}
