// Package status serves a read-only view of a running migration.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/order-migrator/internal/ledger"
	"github.com/ksred/order-migrator/internal/upload"
	"github.com/ksred/order-migrator/pkg/middleware"
	"github.com/ksred/order-migrator/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LedgerView is the read side of the progress ledger
type LedgerView interface {
	Counts() ledger.Counts
	Failed() []ledger.Entry
	Get(sourceID string) (ledger.Entry, bool)
}

type Server struct {
	ledger   LedgerView
	progress func() upload.Progress
	metrics  http.Handler
	logger   zerolog.Logger

	srv *http.Server
	ln  net.Listener
}

// New builds the server. progress and metrics may be nil.
func New(l LedgerView, progress func() upload.Progress, metrics http.Handler) *Server {
	return &Server{
		ledger:   l,
		progress: progress,
		metrics:  metrics,
		logger:   log.With().Str("component", "status_server").Logger(),
	}
}

type statusResponse struct {
	Ledger ledger.Counts    `json:"ledger"`
	Run    *upload.Progress `json:"run,omitempty"`
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger("status_http"))

	api := router.Group("/status")
	api.Use(middleware.RateLimit(600, 20))
	{
		api.GET("", s.statusHandler())
		api.GET("/failed", s.failedHandler())
		api.GET("/orders/:source_id", s.entryHandler())
	}
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	return router
}

func (s *Server) statusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := statusResponse{Ledger: s.ledger.Counts()}
		if s.progress != nil {
			p := s.progress()
			resp.Run = &p
		}
		response.Success(c, resp)
	}
}

func (s *Server) failedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		failed := s.ledger.Failed()
		if failed == nil {
			failed = []ledger.Entry{}
		}
		response.List(c, failed, len(failed))
	}
}

type entryResponse struct {
	SourceID string `json:"sourceId"`
	ledger.Entry
}

func (s *Server) entryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("source_id")
		e, ok := s.ledger.Get(id)
		if !ok {
			response.Handle(c, nil, fmt.Errorf("order %s has no ledger entry: %w", id, response.ErrNotFound))
			return
		}
		response.Handle(c, entryResponse{SourceID: id, Entry: e}, nil)
	}
}

// Start listens on addr and serves in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down status server")
	return s.srv.Shutdown(ctx)
}
