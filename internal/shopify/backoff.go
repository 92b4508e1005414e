package shopify

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// backoff returns the delay before retry n (0-based). The jittered delay of n
// stays below the un-jittered delay of n+1, so successive delays grow until
// they reach MaxDelay.
func (c *Client) backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 30 {
		return c.opts.MaxDelay
	}
	base := c.opts.BaseDelay << n
	if base <= 0 || base >= c.opts.MaxDelay {
		return c.opts.MaxDelay
	}
	delay := base + c.jitter(base/2)
	if delay > c.opts.MaxDelay {
		return c.opts.MaxDelay
	}
	return delay
}

// randomJitter returns a duration in [0, max)
func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// parseRetryAfter understands both delta-seconds (fractions allowed) and
// HTTP dates.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(header); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
