package shopify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrRejectedPayload    = errors.New("remote rejected payload")
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")
	ErrRemoteUnavailable  = errors.New("remote unavailable")
)

// APIError describes a submission that did not produce a remote order. It
// wraps exactly one of the sentinel errors above.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
	Attempts   int
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
	}
	return fmt.Sprintf("%v: API Error %d after %d attempt(s): %s", e.Kind, e.StatusCode, e.Attempts, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// AttemptsOf returns the number of calls recorded on err, or 0
func AttemptsOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Attempts
	}
	return 0
}

const maxErrorBody = 512

// errorMessage flattens Shopify's "errors" member, which is either a string or
// a map of field to messages.
func errorMessage(body []byte) string {
	var parsed struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		var text string
		if json.Unmarshal(parsed.Errors, &text) == nil && text != "" {
			return text
		}
		var fields map[string]json.RawMessage
		if json.Unmarshal(parsed.Errors, &fields) == nil && len(fields) > 0 {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				var msgs []string
				if json.Unmarshal(fields[k], &msgs) != nil {
					var msg string
					if json.Unmarshal(fields[k], &msg) != nil {
						msg = string(fields[k])
					}
					msgs = []string{msg}
				}
				parts = append(parts, k+" "+strings.Join(msgs, ", "))
			}
			return strings.Join(parts, "; ")
		}
		var list []string
		if json.Unmarshal(parsed.Errors, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}
