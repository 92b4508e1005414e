package shopify

import (
	"github.com/ksred/order-migrator/internal/types"
	"github.com/shopspring/decimal"
)

// SourceOrderAttribute names the note attribute carrying the source order id
const SourceOrderAttribute = "source_order_id"

// CreateOrderRequest is the body of POST /admin/api/{version}/orders.json
type CreateOrderRequest struct {
	Order OrderPayload `json:"order"`
}

type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type OrderPayload struct {
	Email                  string               `json:"email"`
	Phone                  string               `json:"phone,omitempty"`
	FinancialStatus        string               `json:"financial_status,omitempty"`
	FulfillmentStatus      string               `json:"fulfillment_status,omitempty"`
	CreatedAt              string               `json:"created_at,omitempty"`
	ProcessedAt            string               `json:"processed_at,omitempty"`
	Currency               string               `json:"currency,omitempty"`
	TotalPrice             decimal.Decimal      `json:"total_price"`
	SubtotalPrice          decimal.Decimal      `json:"subtotal_price"`
	TotalTax               decimal.Decimal      `json:"total_tax"`
	TotalDiscounts         decimal.Decimal      `json:"total_discounts"`
	LineItems              []types.LineItem     `json:"line_items"`
	ShippingLines          []types.ShippingLine `json:"shipping_lines,omitempty"`
	BillingAddress         *types.Address       `json:"billing_address,omitempty"`
	ShippingAddress        *types.Address       `json:"shipping_address,omitempty"`
	Customer               *types.Customer      `json:"customer,omitempty"`
	Note                   string               `json:"note,omitempty"`
	Tags                   string               `json:"tags,omitempty"`
	NoteAttributes         []NoteAttribute      `json:"note_attributes,omitempty"`
	SendReceipt            bool                 `json:"send_receipt"`
	SendFulfillmentReceipt bool                 `json:"send_fulfillment_receipt"`
	InventoryBehaviour     string               `json:"inventory_behaviour,omitempty"`
}

// NewCreateOrderRequest builds the create-order payload for a normalized
// record. Receipts are suppressed and inventory is left untouched, since the
// orders being created are historical.
func NewCreateOrderRequest(o types.Order) CreateOrderRequest {
	c := o.Clone()
	return CreateOrderRequest{Order: OrderPayload{
		Email:                  c.Email,
		Phone:                  c.Phone,
		FinancialStatus:        c.FinancialStatus,
		FulfillmentStatus:      c.FulfillmentStatus,
		CreatedAt:              c.CreatedAt,
		ProcessedAt:            c.ProcessedAt,
		Currency:               c.Currency,
		TotalPrice:             c.TotalPrice,
		SubtotalPrice:          c.SubtotalPrice,
		TotalTax:               c.TotalTax,
		TotalDiscounts:         c.TotalDiscounts,
		LineItems:              c.LineItems,
		ShippingLines:          c.ShippingLines,
		BillingAddress:         c.BillingAddress,
		ShippingAddress:        c.ShippingAddress,
		Customer:               c.Customer,
		Note:                   c.Note,
		Tags:                   c.Tags,
		NoteAttributes:         []NoteAttribute{{Name: SourceOrderAttribute, Value: c.SourceID.String()}},
		SendReceipt:            false,
		SendFulfillmentReceipt: false,
		InventoryBehaviour:     "bypass",
	}}
}

// SourceID returns the source order id carried in the note attributes
func (r CreateOrderRequest) SourceID() string {
	for _, attr := range r.Order.NoteAttributes {
		if attr.Name == SourceOrderAttribute {
			return attr.Value
		}
	}
	return ""
}

// RemoteOrder is the part of the created order the migrator keeps
type RemoteOrder struct {
	ID       string
	Name     string
	Attempts int
}

// Stats counts client activity over its lifetime
type Stats struct {
	Requests  int64 `json:"requests"`
	Throttled int64 `json:"throttled"`
	Retries   int64 `json:"retries"`
	Failures  int64 `json:"failures"`
}
