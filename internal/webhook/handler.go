package webhook

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kreezus/yengapay-gateway/internal/common"
	"github.com/kreezus/yengapay-gateway/internal/obs"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Hash"

const maxBodyBytes = 1 << 20

// Handler exposes the dispatcher over HTTP. It always answers: accepted
// deliveries get 200 {"status":"success"}, everything else 400 with the
// rejection reason.
type Handler struct {
	Dispatcher *Dispatcher
	Logger     zerolog.Logger
}

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Warn().Err(err).Msg("webhook body read failed")
		countWebhook("rejected")
		common.JSON(w, http.StatusBadRequest, map[string]string{"error": ReasonEmptyPayload})
		return
	}

	res := h.Dispatcher.Process(r.Context(), r.Header.Get(SignatureHeader), body)
	if !res.Applied() {
		countWebhook("rejected")
		common.JSON(w, http.StatusBadRequest, map[string]string{"error": res.Reason})
		return
	}

	if res.Mutated {
		countWebhook("applied")
	} else {
		countWebhook("noop")
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func countWebhook(result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
	}
}
