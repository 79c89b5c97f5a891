package checkout

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kreezus/yengapay-gateway/internal/common"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

// Handler exposes the pay endpoint. When the gateway credentials are not
// configured the endpoint answers 404 so the payment option is effectively
// absent, matching how the storefront hides it.
type Handler struct {
	Svc       *Service
	Enabled   bool
	ReturnURL string
	Logger    zerolog.Logger
}

// Pay starts a checkout attempt and redirects the shopper to the hosted
// checkout page, or back to checkout start with a generic notice on failure.
// The failure detail never reaches the shopper; it is logged server-side.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout handler unavailable")
		return
	}
	if !h.Enabled {
		http.NotFound(w, r)
		return
	}
	cartID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "cartId")))
	if err != nil {
		h.redirectBack(w, r, "invalid_cart")
		return
	}

	checkoutURL, err := h.Svc.Pay(r.Context(), cartID)
	if err != nil {
		h.redirectBack(w, r, failureNotice(err))
		return
	}
	http.Redirect(w, r, checkoutURL, http.StatusSeeOther)
}

func (h *Handler) redirectBack(w http.ResponseWriter, r *http.Request, notice string) {
	target := h.ReturnURL
	if target == "" {
		target = "/checkout"
	}
	parsed, err := url.Parse(target)
	if err != nil {
		common.JSONError(w, http.StatusBadGateway, common.CodeGatewayError, "payment could not be started")
		return
	}
	q := parsed.Query()
	q.Set("payment_error", notice)
	parsed.RawQuery = q.Encode()
	http.Redirect(w, r, parsed.String(), http.StatusSeeOther)
}

func failureNotice(err error) string {
	var gwErr *yengapay.GatewayError
	if errors.As(err, &gwErr) {
		return "gateway"
	}
	if appErr, ok := common.AsAppError(err); ok {
		switch appErr.Code {
		case common.CodeInvalidCartState:
			return "invalid_cart"
		case common.CodeNotFound:
			return "invalid_cart"
		}
	}
	return "gateway"
}
