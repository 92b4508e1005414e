package shopify

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsUntilCap(t *testing.T) {
	c := &Client{opts: Options{BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}, jitter: randomJitter}

	prev := time.Duration(0)
	for n := 0; n < 6; n++ {
		d := c.backoff(n)
		assert.Greater(t, d, prev, "n=%d", n)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond<<n)
		assert.Less(t, d, 500*time.Millisecond<<(n+1))
		prev = d
	}
	assert.Equal(t, 30*time.Second, c.backoff(6))
	assert.Equal(t, 30*time.Second, c.backoff(64))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{"2.0", 2 * time.Second, true},
		{"0.25", 250 * time.Millisecond, true},
		{"-1", 0, false},
		{"soon", 0, false},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}

	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.header, now)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestPacingGap(t *testing.T) {
	tests := map[string]time.Duration{
		"":      0,
		"1/40":  0,
		"19/40": 0,
		"20/40": 500 * time.Millisecond,
		"30/40": time.Second,
		"35/40": 2 * time.Second,
		"40/40": 2 * time.Second,
		"x/40":  0,
		"3/0":   0,
	}
	for header, want := range tests {
		assert.Equal(t, want, pacingGap(header), header)
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Not Found", errorMessage([]byte(`{"errors":"Not Found"}`)))
	assert.Equal(t, "customer is invalid", errorMessage([]byte(`{"errors":{"customer":"is invalid"}}`)))
	assert.Equal(t, "bad gateway", errorMessage([]byte(`bad gateway`)))
	assert.Equal(t, "empty response body", errorMessage(nil))
}
