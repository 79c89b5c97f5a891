package yengapay

import (
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kreezus/yengapay-gateway/internal/cart"
	"github.com/kreezus/yengapay-gateway/internal/common"
)

// descriptionPolicy strips all markup from product descriptions before they
// leave the shop. Descriptions come from the merchant's WYSIWYG editor.
var descriptionPolicy = bluemonday.StrictPolicy()

// BuildIntent transforms a cart snapshot into a payment-intent request. It is
// a pure function of its inputs: no network, no store access.
//
// The reference must be the order reference, not the cart id, so the webhook
// can be correlated with the order it was created for.
func BuildIntent(snap cart.Snapshot, reference, locale string) (IntentRequest, error) {
	if len(snap.Items) == 0 || snap.Total <= 0 {
		return IntentRequest{}, common.NewAppError(common.CodeInvalidCartState,
			"cart has no items or a non-positive total", http.StatusBadRequest, nil)
	}
	if strings.TrimSpace(reference) == "" {
		return IntentRequest{}, common.NewAppError(common.CodeInvalidCartState,
			"order reference is required", http.StatusBadRequest, nil)
	}

	articles := make([]Article, 0, len(snap.Items))
	for _, item := range snap.Items {
		pictures := item.Images
		if pictures == nil {
			// a product without images degrades to an empty list, never a failure
			pictures = []string{}
		}
		articles = append(articles, Article{
			Title:       item.LocalizedTitle(locale),
			Description: descriptionPolicy.Sanitize(item.LocalizedDescription(locale)),
			Pictures:    pictures,
			Price:       item.LineTotal,
		})
	}

	return IntentRequest{
		PaymentAmount: snap.Total,
		Reference:     reference,
		Articles:      articles,
	}, nil
}
