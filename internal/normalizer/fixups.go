package normalizer

import (
	"strings"

	"github.com/ksred/order-migrator/internal/types"
)

// statusMapping translates WooCommerce order statuses when the export did not
// already set the Shopify statuses.
var statusMapping = map[string]struct{ financial, fulfillment string }{
	"completed":  {types.FinancialPaid, types.FulfillmentFulfilled},
	"processing": {types.FinancialPaid, ""},
	"on-hold":    {types.FinancialPending, ""},
	"pending":    {types.FinancialPending, ""},
	"refunded":   {types.FinancialRefunded, ""},
	"cancelled":  {types.FinancialVoided, ""},
	"failed":     {types.FinancialVoided, ""},
}

// fix applies the Shopify fix-ups in place and returns a skip reason, or ""
// when the order should be uploaded.
func fix(o *types.Order) string {
	if o.SourceID == "" {
		return "missing woo_order_id"
	}

	if o.FinancialStatus == "" {
		if m, ok := statusMapping[strings.ToLower(strings.TrimSpace(o.SourceStatus))]; ok {
			o.FinancialStatus = m.financial
			if o.FulfillmentStatus == "" {
				o.FulfillmentStatus = m.fulfillment
			}
		}
	}

	if o.FinancialStatus == types.FinancialVoided {
		return "voided order"
	}

	o.Email = strings.TrimSpace(o.Email)
	if o.Email == "" {
		return "missing email"
	}

	if isNullish(o.CreatedAt) {
		o.CreatedAt = ""
	}
	if o.FinancialStatus == types.FinancialPaid {
		if isNullish(o.ProcessedAt) {
			o.ProcessedAt = o.CreatedAt
		}
	} else {
		// Shopify refuses processed_at on orders that are not paid
		o.ProcessedAt = ""
	}

	o.Phone = FormatPhoneE164(o.Phone)
	if o.BillingAddress != nil {
		o.BillingAddress.Phone = FormatPhoneE164(o.BillingAddress.Phone)
	}
	if o.ShippingAddress != nil {
		o.ShippingAddress.Phone = FormatPhoneE164(o.ShippingAddress.Phone)
	}
	if o.Customer != nil {
		o.Customer.Phone = FormatPhoneE164(o.Customer.Phone)
	}
	return ""
}

func isNullish(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "null"
}
