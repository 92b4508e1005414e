// Package sandbox is a stand-in for the Shopify create-order endpoint. It
// enforces a leaky-bucket call limit, validates payloads and can be scripted
// to fail, so a migration can be rehearsed without a real store.
package sandbox

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/order-migrator/internal/shopify"
	"github.com/ksred/order-migrator/pkg/middleware"
	"github.com/ksred/order-migrator/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Config struct {
	AccessToken string
	// BucketSize and LeakRate mirror the REST Admin API call limit (40 calls, 2/s)
	BucketSize int
	LeakRate   float64
	// ServerErrorRate is the share of accepted calls answered with 503
	ServerErrorRate float64
	MinLatency      time.Duration
	MaxLatency      time.Duration
	Seed            uint64
}

func DefaultConfig() Config {
	return Config{
		AccessToken: "shpat_sandbox",
		BucketSize:  40,
		LeakRate:    2,
	}
}

// Order is a created order as the sandbox keeps it
type Order struct {
	ID        int64                `json:"id"`
	Name      string               `json:"name"`
	SourceID  string               `json:"sourceId"`
	Email     string               `json:"email"`
	CreatedAt time.Time            `json:"createdAt"`
	Payload   shopify.OrderPayload `json:"payload"`
}

type Stats struct {
	Calls     int `json:"calls"`
	Created   int `json:"created"`
	Throttled int `json:"throttled"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

type Server struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	bucket  *rate.Limiter
	rng     *rand.Rand
	nextID  int64
	orders  []Order
	calls   map[string]int
	created map[string]int
	scripts map[string][]int
	stats   Stats
}

func New(cfg Config) *Server {
	d := DefaultConfig()
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = d.BucketSize
	}
	if cfg.LeakRate <= 0 {
		cfg.LeakRate = d.LeakRate
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Server{
		cfg:     cfg,
		logger:  log.With().Str("component", "sandbox").Logger(),
		bucket:  rate.NewLimiter(rate.Limit(cfg.LeakRate), cfg.BucketSize),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		nextID:  450789469,
		calls:   make(map[string]int),
		created: make(map[string]int),
		scripts: make(map[string][]int),
	}
}

// Script queues status codes answered to the next calls for a source id
// before normal processing resumes.
func (s *Server) Script(sourceID string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sourceID] = append(s.scripts[sourceID], statuses...)
}

// Calls returns how many create calls carried the source id
func (s *Server) Calls(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[sourceID]
}

// Created returns how many orders were created for the source id. Anything
// above one is a duplicate.
func (s *Server) Created(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[sourceID]
}

func (s *Server) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Order(nil), s.orders...)
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Router exposes the orders endpoint plus a small inspection API
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger("sandbox_http"))

	router.POST("/admin/api/:version/orders.json", s.CreateOrderHandler())

	inspect := router.Group("/sandbox")
	{
		inspect.GET("/orders", func(c *gin.Context) {
			orders := s.Orders()
			response.List(c, orders, len(orders))
		})
		inspect.GET("/orders/:source_id", s.GetOrderHandler())
		inspect.GET("/stats", func(c *gin.Context) { response.Success(c, s.Stats()) })
	}
	return router
}

func shopifyError(c *gin.Context, status int, errs interface{}) {
	c.JSON(status, gin.H{"errors": errs})
}

func (s *Server) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Shopify-Access-Token") != s.cfg.AccessToken {
			shopifyError(c, http.StatusUnauthorized, "[API] Invalid API key or access token (unrecognized login or wrong password)")
			return
		}

		var req shopify.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			shopifyError(c, http.StatusBadRequest, gin.H{"order": "Required parameter missing or invalid"})
			return
		}
		sourceID := req.SourceID()

		s.simulateLatency()

		s.mu.Lock()
		defer s.mu.Unlock()

		s.stats.Calls++
		s.calls[sourceID]++
		logger := s.logger.With().Str("source_id", sourceID).Int("call", s.calls[sourceID]).Logger()

		if status, ok := s.nextScripted(sourceID); ok {
			logger.Debug().Int("status", status).Msg("answering with scripted status")
			s.scripted(c, status)
			return
		}

		if !s.bucket.Allow() {
			s.stats.Throttled++
			c.Header(shopify.CallLimitHeader, fmt.Sprintf("%d/%d", s.cfg.BucketSize, s.cfg.BucketSize))
			c.Header("Retry-After", "1.0")
			shopifyError(c, http.StatusTooManyRequests, "Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service.")
			return
		}
		c.Header(shopify.CallLimitHeader, s.callLimit())

		if s.cfg.ServerErrorRate > 0 && s.rng.Float64() < s.cfg.ServerErrorRate {
			s.stats.Failed++
			logger.Debug().Msg("simulating server error")
			shopifyError(c, http.StatusServiceUnavailable, "Service Unavailable")
			return
		}

		if errs := validate(req.Order); len(errs) > 0 {
			s.stats.Rejected++
			shopifyError(c, http.StatusUnprocessableEntity, errs)
			return
		}

		order := s.create(sourceID, req.Order)
		logger.Info().Int64("order_id", order.ID).Str("name", order.Name).Msg("order created")
		c.JSON(http.StatusCreated, gin.H{"order": gin.H{
			"id":    order.ID,
			"name":  order.Name,
			"email": order.Email,
		}})
	}
}

func (s *Server) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sourceID := c.Param("source_id")
		for _, o := range s.Orders() {
			if o.SourceID == sourceID {
				response.Success(c, o)
				return
			}
		}
		response.Handle(c, nil, fmt.Errorf("no order for source %s: %w", sourceID, response.ErrNotFound))
	}
}

func (s *Server) nextScripted(sourceID string) (int, bool) {
	queue := s.scripts[sourceID]
	if len(queue) == 0 {
		return 0, false
	}
	s.scripts[sourceID] = queue[1:]
	return queue[0], true
}

func (s *Server) scripted(c *gin.Context, status int) {
	switch {
	case status == http.StatusTooManyRequests:
		s.stats.Throttled++
		shopifyError(c, status, "Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service.")
	case status >= 500:
		s.stats.Failed++
		shopifyError(c, status, http.StatusText(status))
	case status >= 400:
		s.stats.Rejected++
		shopifyError(c, status, gin.H{"base": []string{"scripted rejection"}})
	default:
		c.Status(status)
	}
}

// callLimit reports bucket usage the way the real API does
func (s *Server) callLimit() string {
	used := s.cfg.BucketSize - int(s.bucket.Tokens())
	if used < 1 {
		used = 1
	}
	if used > s.cfg.BucketSize {
		used = s.cfg.BucketSize
	}
	return strconv.Itoa(used) + "/" + strconv.Itoa(s.cfg.BucketSize)
}

func (s *Server) simulateLatency() {
	if s.cfg.MaxLatency <= 0 {
		return
	}
	s.mu.Lock()
	latency := s.cfg.MinLatency
	if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
		latency += time.Duration(s.rng.Int64N(int64(spread)))
	}
	s.mu.Unlock()
	time.Sleep(latency)
}

func (s *Server) create(sourceID string, payload shopify.OrderPayload) Order {
	s.nextID++
	s.stats.Created++
	s.created[sourceID]++
	order := Order{
		ID:        s.nextID,
		Name:      fmt.Sprintf("#%d", 1000+len(s.orders)+1),
		SourceID:  sourceID,
		Email:     payload.Email,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	s.orders = append(s.orders, order)
	return order
}

// validate applies the checks that make the real API answer 422
func validate(o shopify.OrderPayload) map[string][]string {
	errs := make(map[string][]string)
	if strings.TrimSpace(o.Email) == "" && o.Customer == nil {
		errs["email"] = append(errs["email"], "can't be blank")
	} else if o.Email != "" && !strings.Contains(o.Email, "@") {
		errs["email"] = append(errs["email"], "is invalid")
	}
	if len(o.LineItems) == 0 {
		errs["line_items"] = append(errs["line_items"], "must have at least one line item")
	}
	for _, item := range o.LineItems {
		if item.Quantity < 1 {
			errs["line_items"] = append(errs["line_items"], "quantity must be greater than 0")
			break
		}
	}
	if o.ProcessedAt != "" {
		if _, err := time.Parse(time.RFC3339, o.ProcessedAt); err != nil {
			errs["processed_at"] = append(errs["processed_at"], "is invalid")
		}
	}
	if o.Phone != "" && !strings.HasPrefix(o.Phone, "+") {
		errs["phone"] = append(errs["phone"], "is invalid")
	}
	return errs
}
