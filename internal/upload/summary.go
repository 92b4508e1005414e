package upload

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ksred/order-migrator/internal/types"
	"github.com/shopspring/decimal"
)

type Failure struct {
	SourceID string `json:"sourceId"`
	Reason   string `json:"reason"`
}

// Summary is the operator-facing result of a run
type Summary struct {
	RunID         string          `json:"runId"`
	Namespace     string          `json:"namespace"`
	Total         int             `json:"total"`
	Skipped       int             `json:"skipped"`
	Uploaded      int             `json:"uploaded"`
	Failed        int             `json:"failed"`
	Failures      []Failure       `json:"failures,omitempty"`
	UploadedValue decimal.Decimal `json:"uploadedValue"`
	StartedAt     time.Time       `json:"startedAt"`
	Duration      time.Duration   `json:"duration"`
	Interrupted   bool            `json:"interrupted"`
}

// FailedIDs lists the source ids that failed in this run
func (s *Summary) FailedIDs() []string {
	ids := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		ids = append(ids, f.SourceID)
	}
	return ids
}

func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "\nUpload summary (run %s, %s ledger)\n", s.RunID, s.Namespace)
	fmt.Fprintf(w, "  Records:  %d\n", s.Total)
	fmt.Fprintf(w, "  Skipped:  %d (already uploaded)\n", s.Skipped)
	fmt.Fprintf(w, "  Uploaded: %d (value %s)\n", s.Uploaded, s.UploadedValue.StringFixed(2))
	fmt.Fprintf(w, "  Failed:   %d\n", s.Failed)
	fmt.Fprintf(w, "  Duration: %s\n", s.Duration.Round(time.Second))
	if s.Interrupted {
		fmt.Fprintln(w, "  Run was interrupted; re-run to continue where it stopped.")
	}
	if len(s.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed orders:")
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  #%s: %s\n", f.SourceID, f.Reason)
		}
	}
}

// Preview describes what a run would do before it starts
type Preview struct {
	Total             int             `json:"total"`
	AlreadyUploaded   int             `json:"alreadyUploaded"`
	Remaining         int             `json:"remaining"`
	ByFinancialStatus map[string]int  `json:"byFinancialStatus"`
	TotalValue        decimal.Decimal `json:"totalValue"`
	Estimated         time.Duration   `json:"estimated"`
}

// NewPreview counts what is left to upload. The estimate assumes every
// remaining record takes one call at requestsPerSecond.
func NewPreview(orders []types.Order, done func(sourceID string) bool, requestsPerSecond float64) Preview {
	p := Preview{
		Total:             len(orders),
		ByFinancialStatus: make(map[string]int),
		TotalValue:        decimal.Zero,
	}
	for _, o := range orders {
		status := o.FinancialStatus
		if status == "" {
			status = "unknown"
		}
		p.ByFinancialStatus[status]++
		p.TotalValue = p.TotalValue.Add(o.TotalPrice)
		if done != nil && done(o.SourceID.String()) {
			p.AlreadyUploaded++
		}
	}
	p.Remaining = p.Total - p.AlreadyUploaded
	if requestsPerSecond > 0 {
		p.Estimated = time.Duration(float64(p.Remaining) / requestsPerSecond * float64(time.Second))
	}
	return p
}

func (p Preview) Print(w io.Writer) {
	fmt.Fprintf(w, "\nOrders in input:   %d (value %s)\n", p.Total, p.TotalValue.StringFixed(2))
	fmt.Fprintf(w, "Already uploaded:  %d\n", p.AlreadyUploaded)
	fmt.Fprintf(w, "Remaining:         %d\n", p.Remaining)

	statuses := make([]string, 0, len(p.ByFinancialStatus))
	for s := range p.ByFinancialStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(w, "  %-20s %d\n", s+":", p.ByFinancialStatus[s])
	}

	est := p.Estimated.Round(time.Second)
	fmt.Fprintf(w, "Estimated time:    %s (%.1f hours)\n", est, p.Estimated.Hours())
}
