package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kreezus/yengapay-gateway/internal/order"
	"github.com/kreezus/yengapay-gateway/internal/webhook"
)

func postWebhook(t *testing.T, h *webhook.Handler, signature, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

func TestReceiveAcknowledgesAppliedDelivery(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	h := &webhook.Handler{Dispatcher: newDispatcher(store), Logger: zerolog.Nop()}

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-7"}`)
	rec := postWebhook(t, h, sig, string(raw))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "success", resp["status"])

	got, err := store.GetByReference(context.Background(), "REF123AAA")
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, got.Status)
}

func TestReceiveRejectsBadSignatureWithoutMutation(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	h := &webhook.Handler{Dispatcher: newDispatcher(store), Logger: zerolog.Nop()}

	rec := postWebhook(t, h, "deadbeef", `{"reference":"REF123AAA","paymentStatus":"DONE"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "signature mismatch", resp["error"])
	require.Zero(t, store.transitionCount())
}

func TestReceiveRejectsMissingHeader(t *testing.T) {
	store := newFakeOrderStore(awaitingOrder("REF123AAA"))
	h := &webhook.Handler{Dispatcher: newDispatcher(store), Logger: zerolog.Nop()}

	rec := postWebhook(t, h, "", `{"reference":"REF123AAA","paymentStatus":"DONE"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "missing header", resp["error"])
	require.Zero(t, store.transitionCount())
}

func TestReceiveAcknowledgesNoopReplay(t *testing.T) {
	paid := awaitingOrder("REF123AAA")
	paid.Status = order.StatusPaid
	store := newFakeOrderStore(paid)
	h := &webhook.Handler{Dispatcher: newDispatcher(store), Logger: zerolog.Nop()}

	sig, raw := signed(`{"reference":"REF123AAA","paymentStatus":"DONE","id":"tx-7"}`)
	rec := postWebhook(t, h, sig, string(raw))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, store.transitionCount())
}
