package yengapay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kreezus/yengapay-gateway/internal/cart"
	"github.com/kreezus/yengapay-gateway/internal/common"
	"github.com/kreezus/yengapay-gateway/internal/yengapay"
)

func snapshotFixture() cart.Snapshot {
	return cart.Snapshot{
		CustomerID:        7,
		DeliveryAddressID: 11,
		InvoiceAddressID:  12,
		Currency:          "XOF",
		Items: []cart.Item{
			{
				Title:       map[string]string{"en": "Wax print shirt", "fr": "Chemise wax"},
				Description: map[string]string{"en": "<p>Hand <b>made</b></p>", "fr": "<p>Fait main</p>"},
				Images:      []string{"https://shop.example/img/shirt.jpg"},
				UnitPrice:   7500,
				Qty:         2,
				LineTotal:   15000,
			},
			{
				Title:     map[string]string{"en": "Gift wrap"},
				UnitPrice: 500,
				Qty:       1,
				LineTotal: 500,
			},
		},
		Total: 15500,
	}
}

func TestBuildIntent(t *testing.T) {
	req, err := yengapay.BuildIntent(snapshotFixture(), "REF123AAA", "en")
	require.NoError(t, err)

	require.Equal(t, int64(15500), req.PaymentAmount)
	require.Equal(t, "REF123AAA", req.Reference)
	require.Len(t, req.Articles, 2)

	first := req.Articles[0]
	require.Equal(t, "Wax print shirt", first.Title)
	require.Equal(t, "Hand made", first.Description, "markup is stripped")
	require.Equal(t, []string{"https://shop.example/img/shirt.jpg"}, first.Pictures)
	require.Equal(t, int64(15000), first.Price)

	second := req.Articles[1]
	require.NotNil(t, second.Pictures)
	require.Empty(t, second.Pictures)
	require.Empty(t, second.Description)
}

func TestBuildIntentLocaleSelection(t *testing.T) {
	req, err := yengapay.BuildIntent(snapshotFixture(), "REF123AAA", "fr")
	require.NoError(t, err)
	require.Equal(t, "Chemise wax", req.Articles[0].Title)
	require.Equal(t, "Fait main", req.Articles[0].Description)
	require.Empty(t, req.Articles[1].Title, "missing translation degrades to empty")
}

func TestBuildIntentRejectsUnpayableCarts(t *testing.T) {
	empty := snapshotFixture()
	empty.Items = nil
	_, err := yengapay.BuildIntent(empty, "REF123AAA", "en")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeInvalidCartState, appErr.Code)

	zero := snapshotFixture()
	zero.Total = 0
	_, err = yengapay.BuildIntent(zero, "REF123AAA", "en")
	require.Error(t, err)

	_, err = yengapay.BuildIntent(snapshotFixture(), "  ", "en")
	require.Error(t, err)
}
