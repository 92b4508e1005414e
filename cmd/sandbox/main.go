package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/order-migrator/internal/sandbox"
)

// init configures the logger with pretty printing unless running in production
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main serves a fake Shopify orders endpoint so a migration can be rehearsed
// end to end, e.g. with MIGRATOR_API_BASE_URL=http://localhost:8081
func main() {
	cfg := sandbox.DefaultConfig()

	addr := flag.String("addr", ":8081", "listen address")
	flag.StringVar(&cfg.AccessToken, "token", cfg.AccessToken, "access token clients must send")
	flag.IntVar(&cfg.BucketSize, "bucket", cfg.BucketSize, "leaky bucket size")
	flag.Float64Var(&cfg.LeakRate, "leak-rate", cfg.LeakRate, "bucket leak rate in calls per second")
	flag.Float64Var(&cfg.ServerErrorRate, "error-rate", 0, "share of calls answered with 503 (0-1)")
	flag.DurationVar(&cfg.MinLatency, "min-latency", 20*time.Millisecond, "minimum simulated latency")
	flag.DurationVar(&cfg.MaxLatency, "max-latency", 120*time.Millisecond, "maximum simulated latency")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "random seed (0 = time based)")
	flag.Parse()

	if os.Getenv("DEBUG") != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	box := sandbox.New(cfg)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           box.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().
		Str("addr", *addr).
		Int("bucket", cfg.BucketSize).
		Float64("leak_rate", cfg.LeakRate).
		Float64("error_rate", cfg.ServerErrorRate).
		Msg("sandbox store listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down sandbox...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Sandbox forced to shutdown")
	}

	stats := box.Stats()
	zlog.Info().
		Int("calls", stats.Calls).
		Int("created", stats.Created).
		Int("throttled", stats.Throttled).
		Int("rejected", stats.Rejected).
		Int("failed", stats.Failed).
		Msg("Sandbox exiting")
}
