// Package shopify submits create-order calls to the Shopify Admin REST API
// within its request budget, retrying throttled and transient failures.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"github.com/ksred/order-migrator/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Observer is notified about every call the client makes
type Observer interface {
	ObserveRequest(statusCode int, elapsed time.Duration)
	ObserveThrottle(delay time.Duration)
	ObserveRetry(reason string, delay time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(int, time.Duration)  {}
func (nopObserver) ObserveThrottle(time.Duration)      {}
func (nopObserver) ObserveRetry(string, time.Duration) {}

type Options struct {
	// BaseURL overrides the store URL derived from the credentials
	BaseURL              string
	APIVersion           string
	Timeout              time.Duration
	RequestsPerSecond    float64
	Burst                int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxThrottleAttempts  int
	MaxTransientAttempts int
	Observer             Observer
	HTTPClient           *http.Client
}

func DefaultOptions() Options {
	return Options{
		APIVersion:           "2024-01",
		Timeout:              15 * time.Second,
		RequestsPerSecond:    2,
		Burst:                1,
		BaseDelay:            500 * time.Millisecond,
		MaxDelay:             30 * time.Second,
		MaxThrottleAttempts:  6,
		MaxTransientAttempts: 3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.APIVersion == "" {
		o.APIVersion = d.APIVersion
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Burst <= 0 {
		o.Burst = d.Burst
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.MaxThrottleAttempts <= 0 {
		o.MaxThrottleAttempts = d.MaxThrottleAttempts
	}
	if o.MaxTransientAttempts <= 0 {
		o.MaxTransientAttempts = d.MaxTransientAttempts
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

// Client is safe for use by one submitting goroutine; Stats may be read
// concurrently.
type Client struct {
	creds    auth.Credentials
	opts     Options
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time

	mu        sync.Mutex
	notBefore time.Time
	throttles int
	stats     Stats
}

func NewClient(creds auth.Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	base := opts.BaseURL
	if base == "" {
		base = creds.BaseURL()
	}
	base = strings.TrimRight(base, "/")

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		creds:    creds,
		opts:     opts,
		endpoint: fmt.Sprintf("%s/admin/api/%s/orders.json", base, opts.APIVersion),
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		logger:   log.With().Str("component", "shopify_client").Logger(),
		sleep:    sleepContext,
		jitter:   randomJitter,
		now:      time.Now,
	}, nil
}

// Endpoint returns the create-order URL the client posts to
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type createOrderResponse struct {
	Order struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"order"`
}

// Submit creates one remote order. Throttled calls are retried up to
// MaxThrottleAttempts and 5xx or connection failures up to
// MaxTransientAttempts. A failure after the request body was sent is never
// retried here, because the remote order may already exist.
func (c *Client) Submit(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	logger := c.logger.With().Str("source_id", req.SourceID()).Logger()

	var attempts, throttled, transient int
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		attempts++
		c.addStats(func(s *Stats) { s.Requests++ })

		started := c.now()
		resp, sent, err := c.post(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.opts.Observer.ObserveRequest(0, c.now().Sub(started))
			if sent {
				logger.Error().Err(err).Int("attempts", attempts).Msg("response lost after request was sent")
				return nil, c.fail(&APIError{Kind: ErrRemoteUnavailable, Attempts: attempts,
					Message: "response lost after request was sent: " + err.Error()})
			}

			transient++
			if transient >= c.opts.MaxTransientAttempts {
				return nil, c.fail(&APIError{Kind: ErrRemoteUnavailable, Attempts: attempts, Message: err.Error()})
			}
			delay := c.backoff(transient - 1)
			logger.Warn().Err(err).Dur("delay", delay).Int("attempt", attempts).Msg("connection failed, retrying")
			if err := c.retry(ctx, "network", delay); err != nil {
				return nil, err
			}
			continue
		}

		c.opts.Observer.ObserveRequest(resp.statusCode, c.now().Sub(started))
		c.pace(resp.header)

		switch {
		case resp.statusCode >= 200 && resp.statusCode <= 299:
			c.mu.Lock()
			c.throttles = 0
			c.mu.Unlock()

			var created createOrderResponse
			if err := json.Unmarshal(resp.body, &created); err != nil || created.Order.ID == "" {
				// the create succeeded, so the record must count as uploaded even without a remote id
				logger.Warn().
					Err(err).
					Int("status", resp.statusCode).
					Str("body", errorMessage(resp.body)).
					Int("attempts", attempts).
					Msg("order created but response carried no order id")
				return &RemoteOrder{Attempts: attempts}, nil
			}
			logger.Debug().Str("remote_id", created.Order.ID.String()).Int("attempts", attempts).Msg("order created")
			return &RemoteOrder{ID: created.Order.ID.String(), Name: created.Order.Name, Attempts: attempts}, nil

		case resp.statusCode == http.StatusTooManyRequests:
			throttled++
			c.mu.Lock()
			n := c.throttles
			c.throttles++
			c.stats.Throttled++
			c.mu.Unlock()

			if throttled >= c.opts.MaxThrottleAttempts {
				return nil, c.fail(&APIError{Kind: ErrRateLimitExhausted, StatusCode: resp.statusCode, Attempts: attempts,
					Message: errorMessage(resp.body)})
			}

			delay, ok := parseRetryAfter(resp.header.Get("Retry-After"), c.now())
			if !ok {
				delay = c.backoff(n)
			}
			if delay > c.opts.MaxDelay {
				delay = c.opts.MaxDelay
			}
			c.opts.Observer.ObserveThrottle(delay)
			logger.Warn().Dur("delay", delay).Int("attempt", attempts).Msg("rate limited, backing off")
			if err := c.retry(ctx, "throttled", delay); err != nil {
				return nil, err
			}

		case resp.statusCode >= 500:
			transient++
			if transient >= c.opts.MaxTransientAttempts {
				return nil, c.fail(&APIError{Kind: ErrRemoteUnavailable, StatusCode: resp.statusCode, Attempts: attempts,
					Message: errorMessage(resp.body)})
			}
			delay := c.backoff(transient - 1)
			logger.Warn().Int("status", resp.statusCode).Dur("delay", delay).Int("attempt", attempts).Msg("server error, retrying")
			if err := c.retry(ctx, "server_error", delay); err != nil {
				return nil, err
			}

		default:
			return nil, c.fail(&APIError{Kind: ErrRejectedPayload, StatusCode: resp.statusCode, Attempts: attempts,
				Message: errorMessage(resp.body)})
		}
	}
}

type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

// post sends one request. sent reports whether the request was fully written
// before an error occurred.
func (c *Client) post(ctx context.Context, body []byte) (*response, bool, error) {
	var sent bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sent = true
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.creds.Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, sent, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	return &response{statusCode: resp.StatusCode, header: resp.Header, body: data}, true, nil
}

// wait blocks until the pacing gap has passed and the token bucket allows a call
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	gap := c.notBefore.Sub(c.now())
	c.mu.Unlock()

	if gap > 0 {
		if err := c.sleep(ctx, gap); err != nil {
			return err
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) pace(header http.Header) {
	gap := pacingGap(header.Get(CallLimitHeader))
	if gap <= 0 {
		return
	}
	c.logger.Debug().Str("call_limit", header.Get(CallLimitHeader)).Dur("gap", gap).Msg("bucket filling up, slowing down")
	c.mu.Lock()
	c.notBefore = c.now().Add(gap)
	c.mu.Unlock()
}

func (c *Client) retry(ctx context.Context, reason string, delay time.Duration) error {
	c.addStats(func(s *Stats) { s.Retries++ })
	c.opts.Observer.ObserveRetry(reason, delay)
	return c.sleep(ctx, delay)
}

func (c *Client) fail(err *APIError) error {
	c.addStats(func(s *Stats) { s.Failures++ })
	if errors.Is(err, ErrRejectedPayload) {
		c.logger.Debug().Int("status", err.StatusCode).Str("message", err.Message).Msg("payload rejected")
	}
	return err
}

func (c *Client) addStats(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
