// Package mode decides which records a run submits and under which ledger
// namespace: a bounded rehearsal with contact details replaced, or the full
// migration.
package mode

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ksred/order-migrator/internal/ledger"
	"github.com/ksred/order-migrator/internal/normalizer"
	"github.com/ksred/order-migrator/internal/types"
)

type Mode string

const (
	Test Mode = "test"
	Full Mode = "full"
)

// Parse accepts the mode names and their menu numbers
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "test", "1":
		return Test, nil
	case "full", "2":
		return Full, nil
	}
	return "", fmt.Errorf("unknown mode %q (want test or full)", s)
}

// Namespace returns the ledger namespace the mode records progress in
func (m Mode) Namespace() string {
	if m == Test {
		return ledger.NamespaceTest
	}
	return ledger.NamespaceFull
}

// DefaultTestCount is used when Options.TestCount is not positive
const DefaultTestCount = 10

type Options struct {
	TestCount int
	// TestEmails are cycled through; EmailPattern (with one %d) is used when empty
	TestEmails   []string
	EmailPattern string
	Seed         uint64
}

// Plan is what a run will submit
type Plan struct {
	Mode      Mode
	Namespace string
	Orders    []types.Order
}

// Select builds the plan for m. The input slice is never modified.
func Select(m Mode, orders []types.Order, opts Options) Plan {
	if m != Test {
		return Plan{Mode: Full, Namespace: ledger.NamespaceFull, Orders: orders}
	}

	count := opts.TestCount
	if count <= 0 {
		count = DefaultTestCount
	}
	if count > len(orders) {
		count = len(orders)
	}
	pattern := opts.EmailPattern
	if pattern == "" {
		pattern = "test+order%d@example.com"
	}

	faker := gofakeit.New(opts.Seed)
	out := make([]types.Order, 0, count)
	for i := 0; i < count; i++ {
		n := i + 1
		o := orders[i].Clone()

		email := fmt.Sprintf(pattern, n)
		if len(opts.TestEmails) > 0 {
			email = opts.TestEmails[i%len(opts.TestEmails)]
		}
		o.Email = email

		phone := syntheticPhone(faker)
		o.Phone = phone
		if o.Customer != nil {
			o.Customer.Email = email
			o.Customer.Phone = phone
			o.Customer.FirstName = "Test"
			o.Customer.LastName = fmt.Sprintf("Customer%d", n)
		}
		if o.BillingAddress != nil {
			o.BillingAddress.FirstName = "Test"
			o.BillingAddress.LastName = fmt.Sprintf("Customer%d", n)
			o.BillingAddress.Phone = phone
		}
		if o.ShippingAddress != nil {
			o.ShippingAddress.FirstName = "Test"
			o.ShippingAddress.LastName = fmt.Sprintf("Customer%d", n)
			o.ShippingAddress.Phone = phone
		}
		o.Note = fmt.Sprintf("TEST ORDER %d - Original WooCommerce Order #%s", n, o.SourceID)

		out = append(out, o)
	}
	return Plan{Mode: Test, Namespace: ledger.NamespaceTest, Orders: out}
}

func syntheticPhone(f *gofakeit.Faker) string {
	for i := 0; i < 5; i++ {
		if p := normalizer.FormatPhoneE164(f.Phone()); p != "" {
			return p
		}
	}
	return ""
}
