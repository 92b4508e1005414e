package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceID_UnmarshalNumberAndString(t *testing.T) {
	var orders []struct {
		ID SourceID `json:"woo_order_id"`
	}
	err := json.Unmarshal([]byte(`[{"woo_order_id": 1042}, {"woo_order_id": " 77 "}, {"woo_order_id": null}]`), &orders)
	require.NoError(t, err)
	require.Len(t, orders, 3)

	assert.Equal(t, SourceID("1042"), orders[0].ID)
	assert.Equal(t, SourceID("77"), orders[1].ID)
	assert.Equal(t, SourceID(""), orders[2].ID)
}

func TestSourceID_RejectsObjects(t *testing.T) {
	var id SourceID
	assert.Error(t, json.Unmarshal([]byte(`{"id": 1}`), &id))
}

func TestOrder_CloneIsDeep(t *testing.T) {
	variant := int64(99)
	original := Order{
		SourceID:       "1",
		Email:          "real@customer.com",
		TotalPrice:     decimal.RequireFromString("19.99"),
		LineItems:      []LineItem{{Title: "Mug", Quantity: 1, VariantID: &variant}},
		BillingAddress: &Address{FirstName: "Ada"},
		Customer:       &Customer{Email: "real@customer.com"},
	}

	clone := original.Clone()
	clone.Email = "test@example.com"
	clone.BillingAddress.FirstName = "Test"
	clone.Customer.Email = "test@example.com"
	*clone.LineItems[0].VariantID = 1
	clone.LineItems[0].Title = "Plate"

	assert.Equal(t, "real@customer.com", original.Email)
	assert.Equal(t, "Ada", original.BillingAddress.FirstName)
	assert.Equal(t, "real@customer.com", original.Customer.Email)
	assert.Equal(t, int64(99), *original.LineItems[0].VariantID)
	assert.Equal(t, "Mug", original.LineItems[0].Title)
}
