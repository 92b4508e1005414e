package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Financial statuses understood by the target platform
const (
	FinancialPending           = "pending"
	FinancialAuthorized        = "authorized"
	FinancialPartiallyPaid     = "partially_paid"
	FinancialPaid              = "paid"
	FinancialPartiallyRefunded = "partially_refunded"
	FinancialRefunded          = "refunded"
	FinancialVoided            = "voided"
)

// Fulfillment statuses understood by the target platform
const (
	FulfillmentFulfilled = "fulfilled"
	FulfillmentPartial   = "partial"
	FulfillmentRestocked = "restocked"
)

// SourceID identifies an order on the source platform. Exports carry it either
// as a JSON number or a string; it is always handled as a string here.
type SourceID string

// UnmarshalJSON accepts both numeric and string identifiers
func (id *SourceID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SourceID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid source id %s: %w", string(data), err)
	}
	*id = SourceID(n.String())
	return nil
}

func (id SourceID) String() string {
	return string(id)
}

// Order is a normalized order record, already expressed in the target
// platform's field vocabulary.
type Order struct {
	SourceID          SourceID        `json:"woo_order_id"`
	SourceStatus      string          `json:"woo_status,omitempty"`
	Email             string          `json:"email,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	FinancialStatus   string          `json:"financial_status,omitempty"`
	FulfillmentStatus string          `json:"fulfillment_status,omitempty"`
	CreatedAt         string          `json:"created_at,omitempty"`
	ProcessedAt       string          `json:"processed_at,omitempty"`
	Currency          string          `json:"currency,omitempty"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	SubtotalPrice     decimal.Decimal `json:"subtotal_price"`
	TotalTax          decimal.Decimal `json:"total_tax"`
	TotalDiscounts    decimal.Decimal `json:"total_discounts"`
	LineItems         []LineItem      `json:"line_items"`
	ShippingLines     []ShippingLine  `json:"shipping_lines,omitempty"`
	BillingAddress    *Address        `json:"billing_address,omitempty"`
	ShippingAddress   *Address        `json:"shipping_address,omitempty"`
	Customer          *Customer       `json:"customer,omitempty"`
	Note              string          `json:"note,omitempty"`
	Tags              string          `json:"tags,omitempty"`
}

type LineItem struct {
	Title            string          `json:"title"`
	SKU              string          `json:"sku,omitempty"`
	Quantity         int             `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	VariantID        *int64          `json:"variant_id,omitempty"`
	Taxable          *bool           `json:"taxable,omitempty"`
	RequiresShipping *bool           `json:"requires_shipping,omitempty"`
}

type ShippingLine struct {
	Title string          `json:"title"`
	Code  string          `json:"code,omitempty"`
	Price decimal.Decimal `json:"price"`
}

type Address struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Company      string `json:"company,omitempty"`
	Address1     string `json:"address1,omitempty"`
	Address2     string `json:"address2,omitempty"`
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	ProvinceCode string `json:"province_code,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

type Customer struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Clone returns a deep copy so callers can rewrite contact fields without
// touching the original record.
func (o Order) Clone() Order {
	c := o
	if o.LineItems != nil {
		c.LineItems = make([]LineItem, len(o.LineItems))
		for i, item := range o.LineItems {
			c.LineItems[i] = item.clone()
		}
	}
	if o.ShippingLines != nil {
		c.ShippingLines = append([]ShippingLine(nil), o.ShippingLines...)
	}
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		c.BillingAddress = &addr
	}
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		c.ShippingAddress = &addr
	}
	if o.Customer != nil {
		cust := *o.Customer
		c.Customer = &cust
	}
	return c
}

func (li LineItem) clone() LineItem {
	c := li
	if li.VariantID != nil {
		v := *li.VariantID
		c.VariantID = &v
	}
	if li.Taxable != nil {
		v := *li.Taxable
		c.Taxable = &v
	}
	if li.RequiresShipping != nil {
		v := *li.RequiresShipping
		c.RequiresShipping = &v
	}
	return c
}
