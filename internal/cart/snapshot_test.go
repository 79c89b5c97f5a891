package cart_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kreezus/yengapay-gateway/internal/cart"
	"github.com/kreezus/yengapay-gateway/internal/common"
)

func validSnapshot() cart.Snapshot {
	return cart.Snapshot{
		CustomerID:        1,
		DeliveryAddressID: 2,
		InvoiceAddressID:  3,
		Currency:          "XOF",
		Total:             1000,
	}
}

func TestSnapshotValidate(t *testing.T) {
	require.NoError(t, validSnapshot().Validate())

	for name, mutate := range map[string]func(*cart.Snapshot){
		"no customer":         func(s *cart.Snapshot) { s.CustomerID = 0 },
		"no delivery address": func(s *cart.Snapshot) { s.DeliveryAddressID = 0 },
		"no invoice address":  func(s *cart.Snapshot) { s.InvoiceAddressID = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			snap := validSnapshot()
			mutate(&snap)
			err := snap.Validate()
			appErr, ok := common.AsAppError(err)
			require.True(t, ok)
			require.Equal(t, common.CodeInvalidCartState, appErr.Code)
			require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
		})
	}
}

func TestItemLocalization(t *testing.T) {
	item := cart.Item{
		Title:       map[string]string{"en": "Shea butter", "fr": "Beurre de karité"},
		Description: map[string]string{"en": "Raw and unrefined"},
	}

	require.Equal(t, "Shea butter", item.LocalizedTitle("en"))
	require.Equal(t, "Beurre de karité", item.LocalizedTitle("fr"))
	require.Empty(t, item.LocalizedTitle("de"))

	require.Equal(t, "Raw and unrefined", item.LocalizedDescription("en"))
	require.Empty(t, item.LocalizedDescription("fr"))

	var empty cart.Item
	require.Empty(t, empty.LocalizedTitle("en"), "nil maps never panic")
}
