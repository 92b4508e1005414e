// Package normalizer loads the exported order records and applies the
// fix-ups the Shopify order API insists on.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ksred/order-migrator/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	ErrInputNotFound   = errors.New("input file not found")
	ErrUnreadableInput = errors.New("input is unreadable")
)

// DefaultCandidates are searched in order when no input file is configured
var DefaultCandidates = []string{
	"data/shopify_orders_ready.json",
	"scripts/data/shopify_orders_ready.json",
}

// Skipped describes a record left out of the upload
type Skipped struct {
	Index    int    `json:"index"`
	SourceID string `json:"sourceId,omitempty"`
	Reason   string `json:"reason"`
}

type Result struct {
	Path    string
	Orders  []types.Order
	Skipped []Skipped
}

type Normalizer struct {
	schema *jsonschema.Schema
	logger zerolog.Logger
}

func New() (*Normalizer, error) {
	sch, err := compileOrderSchema()
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		schema: sch,
		logger: log.With().Str("component", "normalizer").Logger(),
	}, nil
}

// Discover returns the first candidate that exists as a regular file
func Discover(candidates []string) (string, error) {
	for _, path := range candidates {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: looked for %s", ErrInputNotFound, strings.Join(candidates, ", "))
}

// LoadFile discovers and normalizes the input
func (n *Normalizer) LoadFile(candidates []string) (*Result, error) {
	path, err := Discover(candidates)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	defer f.Close()

	res, err := n.Normalize(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res.Path = path
	n.logger.Info().
		Str("path", path).
		Int("orders", len(res.Orders)).
		Int("skipped", len(res.Skipped)).
		Msg("loaded orders")
	return res, nil
}

// Normalize reads a JSON array of order records. Records failing validation
// or the fix-ups are reported in Result.Skipped; input order is preserved.
func (n *Normalizer) Normalize(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array of orders", ErrUnreadableInput)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}

	res := &Result{Orders: make([]types.Order, 0, len(raws))}
	seen := make(map[types.SourceID]int, len(raws))
	skip := func(i int, id types.SourceID, reason string) {
		res.Skipped = append(res.Skipped, Skipped{Index: i, SourceID: id.String(), Reason: reason})
		n.logger.Debug().Int("index", i).Str("source_id", id.String()).Str("reason", reason).Msg("skipping record")
	}

	for i, raw := range raws {
		if err := validate(n.schema, raw); err != nil {
			skip(i, sourceIDOf(raw), "invalid record: "+err.Error())
			continue
		}

		var o types.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			skip(i, sourceIDOf(raw), "invalid record: "+err.Error())
			continue
		}

		if first, dup := seen[o.SourceID]; dup {
			skip(i, o.SourceID, fmt.Sprintf("duplicate of record %d", first))
			continue
		}

		seen[o.SourceID] = i

		if reason := fix(&o); reason != "" {
			skip(i, o.SourceID, reason)
			continue
		}

		res.Orders = append(res.Orders, o)
	}
	return res, nil
}

func sourceIDOf(raw []byte) types.SourceID {
	var head struct {
		SourceID types.SourceID `json:"woo_order_id"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.SourceID
}
