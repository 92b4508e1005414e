package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// legacyDocument is the progress file written by the earlier upload script:
// a flat list of uploaded source ids without remote ids.
type legacyDocument struct {
	CompletedOrders []json.RawMessage `json:"completed_orders"`
	LastUpdated     *float64          `json:"last_updated"`
}

// parseLegacy converts a legacy progress document into uploaded entries. ok
// is false when data is not in the legacy layout.
func parseLegacy(data []byte) (map[string]Entry, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, nil
	}
	raw, found := fields["completed_orders"]
	if !found || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		return nil, false, nil
	}

	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, true, err
	}

	var at time.Time
	if doc.LastUpdated != nil {
		sec, frac := math.Modf(*doc.LastUpdated)
		at = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	entries := make(map[string]Entry, len(doc.CompletedOrders))
	for _, item := range doc.CompletedOrders {
		var id string
		if err := json.Unmarshal(item, &id); err != nil {
			var n json.Number
			if err := json.Unmarshal(item, &n); err != nil {
				return nil, true, fmt.Errorf("completed order id %s: %w", string(item), err)
			}
			id = n.String()
		}
		if id == "" {
			continue
		}
		entries[id] = Entry{SourceID: id, Status: StatusUploaded, LastAttempt: at}
	}
	return entries, true, nil
}
