// Package upload drives the migration: one record at a time, skipping what the
// ledger already holds as uploaded and recording every outcome before moving
// on.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/order-migrator/internal/shopify"
	"github.com/ksred/order-migrator/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrLedgerWrite = errors.New("ledger write failed")

// State of a record within a run
type State string

const (
	StateSkipped    State = "skipped"
	StateSubmitting State = "submitting"
	StateUploaded   State = "uploaded"
	StateFailed     State = "failed"
)

type Submitter interface {
	Submit(ctx context.Context, req shopify.CreateOrderRequest) (*shopify.RemoteOrder, error)
}

// Ledger is the part of the progress ledger the engine needs
type Ledger interface {
	IsDone(sourceID string) bool
	RecordSuccess(ctx context.Context, sourceID, remoteID string, attempts int) error
	RecordFailure(ctx context.Context, sourceID string, cause error, attempts int) error
}

// Observer receives per-record outcomes
type Observer interface {
	RecordOutcome(outcome string)
	SetRemaining(n int)
}

type Options struct {
	// Limit caps the number of records considered; 0 means all
	Limit         int
	ProgressEvery int
	Namespace     string
	Observer      Observer
}

// Progress is a live view of the current run
type Progress struct {
	RunID     string    `json:"runId"`
	Namespace string    `json:"namespace"`
	Running   bool      `json:"running"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Uploaded  int       `json:"uploaded"`
	Failed    int       `json:"failed"`
	Current   string    `json:"current,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

type Engine struct {
	submitter Submitter
	ledger    Ledger
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	progress Progress
}

func NewEngine(submitter Submitter, ledger Ledger, opts Options) *Engine {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 100
	}
	return &Engine{
		submitter: submitter,
		ledger:    ledger,
		opts:      opts,
		logger:    log.With().Str("component", "upload_engine").Logger(),
		now:       time.Now,
	}
}

// Progress returns a snapshot of the current or last run
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

func (e *Engine) update(fn func(p *Progress)) {
	e.mu.Lock()
	fn(&e.progress)
	e.mu.Unlock()
}

// Run submits every record not yet uploaded. Per-record failures are
// recorded and never stop the run. The returned error is non-nil only when
// the ledger cannot be written; the summary is returned in every case.
// Cancelling ctx stops before the next record and leaves the in-flight
// record unrecorded.
func (e *Engine) Run(ctx context.Context, orders []types.Order) (*Summary, error) {
	if e.opts.Limit > 0 && len(orders) > e.opts.Limit {
		orders = orders[:e.opts.Limit]
	}

	started := e.now()
	summary := &Summary{
		RunID:         uuid.New().String(),
		Namespace:     e.opts.Namespace,
		Total:         len(orders),
		StartedAt:     started,
		UploadedValue: decimal.Zero,
	}
	logger := e.logger.With().Str("run_id", summary.RunID).Str("namespace", e.opts.Namespace).Logger()

	e.update(func(p *Progress) {
		*p = Progress{RunID: summary.RunID, Namespace: e.opts.Namespace, Running: true, Total: len(orders), StartedAt: started}
	})
	defer func() {
		summary.Duration = e.now().Sub(started)
		e.update(func(p *Progress) {
			p.Running = false
			p.Current = ""
		})
	}()

	logger.Info().Int("records", len(orders)).Msg("starting upload run")
	e.observeRemaining(len(orders))

	for i, order := range orders {
		if ctx.Err() != nil {
			summary.Interrupted = true
			logger.Warn().Int("processed", i).Msg("run interrupted")
			return summary, nil
		}

		id := order.SourceID.String()
		state, err := e.process(ctx, logger, order, summary)
		if err != nil {
			return summary, err
		}
		if state == StateSubmitting {
			// cancelled mid-call; the record stays untouched for the next run
			summary.Interrupted = true
			logger.Warn().Str("source_id", id).Int("processed", i).Msg("run interrupted during submission")
			return summary, nil
		}

		processed := i + 1
		e.update(func(p *Progress) {
			p.Processed = processed
			p.Current = ""
			switch state {
			case StateSkipped:
				p.Skipped++
			case StateUploaded:
				p.Uploaded++
			case StateFailed:
				p.Failed++
			}
		})
		e.observeOutcome(state)
		e.observeRemaining(len(orders) - processed)

		if processed%e.opts.ProgressEvery == 0 {
			logger.Info().
				Int("processed", processed).
				Int("total", len(orders)).
				Int("uploaded", summary.Uploaded).
				Int("failed", summary.Failed).
				Str("percent", fmt.Sprintf("%.1f", float64(processed)/float64(len(orders))*100)).
				Msg("progress")
		}
	}

	logger.Info().
		Int("skipped", summary.Skipped).
		Int("uploaded", summary.Uploaded).
		Int("failed", summary.Failed).
		Msg("upload run finished")
	return summary, nil
}

// process moves one record to a terminal state. StateSubmitting is returned
// when the context was cancelled while the record was in flight.
func (e *Engine) process(ctx context.Context, logger zerolog.Logger, order types.Order, summary *Summary) (State, error) {
	id := order.SourceID.String()

	if e.ledger.IsDone(id) {
		summary.Skipped++
		logger.Debug().Str("source_id", id).Msg("already uploaded, skipping")
		return StateSkipped, nil
	}

	e.update(func(p *Progress) { p.Current = id })

	remote, err := e.submitter.Submit(ctx, shopify.NewCreateOrderRequest(order))

	// outcomes are recorded even when an interrupt arrives right after the call
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return StateSubmitting, nil
		}

		attempts := shopify.AttemptsOf(err)
		logger.Error().Err(err).Str("source_id", id).Int("attempts", attempts).Msg("order upload failed")

		if lerr := e.ledger.RecordFailure(writeCtx, id, err, attempts); lerr != nil {
			logger.Error().Err(lerr).Str("source_id", id).Msg("failed to record failure in ledger")
			return StateFailed, fmt.Errorf("%w: record failure of %s: %v", ErrLedgerWrite, id, lerr)
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{SourceID: id, Reason: err.Error()})
		return StateFailed, nil
	}

	if lerr := e.ledger.RecordSuccess(writeCtx, id, remote.ID, remote.Attempts); lerr != nil {
		logger.Error().Err(lerr).
			Str("source_id", id).
			Str("remote_id", remote.ID).
			Msg("remote order created but ledger write failed")
		return StateUploaded, fmt.Errorf("%w: %s was created as remote order %s: %v", ErrLedgerWrite, id, remote.ID, lerr)
	}

	summary.Uploaded++
	summary.UploadedValue = summary.UploadedValue.Add(order.TotalPrice)
	logger.Info().
		Str("source_id", id).
		Str("remote_id", remote.ID).
		Str("remote_name", remote.Name).
		Int("attempts", remote.Attempts).
		Msg("order uploaded")
	return StateUploaded, nil
}

func (e *Engine) observeOutcome(s State) {
	if e.opts.Observer != nil {
		e.opts.Observer.RecordOutcome(string(s))
	}
}

func (e *Engine) observeRemaining(n int) {
	if e.opts.Observer != nil {
		e.opts.Observer.SetRemaining(n)
	}
}
