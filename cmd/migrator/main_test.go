package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/order-migrator/internal/config"
	"github.com/ksred/order-migrator/internal/sandbox"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `[
  {"woo_order_id": 1, "email": "a@shop.example", "financial_status": "paid", "created_at": "2023-01-01T10:00:00Z",
   "total_price": "10.00", "line_items": [{"title": "Mug", "quantity": 1, "price": "10.00"}]},
  {"woo_order_id": 2, "email": "b@shop.example", "financial_status": "paid", "created_at": "2023-01-02T10:00:00Z",
   "total_price": "20.00", "line_items": [{"title": "Tea", "quantity": 2, "price": "10.00"}]},
  {"woo_order_id": 3, "email": "c@shop.example", "financial_status": "pending",
   "total_price": "5.00", "line_items": [{"title": "Card", "quantity": 1, "price": "5.00"}]}
]`

type env struct {
	box    *sandbox.Server
	ledger string
}

func setup(t *testing.T) env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	box := sandbox.New(sandbox.Config{AccessToken: "shpat_test"})
	srv := httptest.NewServer(box.Router())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	input := filepath.Join(dir, "orders.json")
	require.NoError(t, os.WriteFile(input, []byte(fixture), 0o644))
	ledgerPath := filepath.Join(dir, "upload_progress.json")

	t.Setenv("SHOPIFY_STORE", "sandbox.myshopify.com")
	t.Setenv("SHOPIFY_API_KEY", "key")
	t.Setenv("SHOPIFY_ADMIN_API_ACCESS_TOKEN", "shpat_test")
	t.Setenv("MIGRATOR_API_BASE_URL", srv.URL)
	t.Setenv("MIGRATOR_INPUT", input)
	t.Setenv("MIGRATOR_LEDGER_DSN", ledgerPath)
	t.Setenv("MIGRATOR_REQUESTS_PER_SECOND", "500")
	t.Setenv("MIGRATOR_STATUS_ADDR", "")

	return env{box: box, ledger: ledgerPath}
}

func TestRun_FullModeUploadsAndResumes(t *testing.T) {
	e := setup(t)

	var out bytes.Buffer
	code := run(context.Background(), []string{"-mode", "full", "-yes"}, strings.NewReader(""), &out)
	require.Equal(t, exitOK, code, out.String())
	assert.Contains(t, out.String(), "Uploaded: 3")
	for _, id := range []string{"1", "2", "3"} {
		assert.Equal(t, 1, e.box.Created(id))
	}

	out.Reset()
	code = run(context.Background(), []string{"-mode", "full", "-yes"}, strings.NewReader(""), &out)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "Nothing left to upload.")
	assert.Len(t, e.box.Orders(), 3)
}

func TestRun_InteractiveTestThenDecline(t *testing.T) {
	e := setup(t)

	var out bytes.Buffer
	code := run(context.Background(), nil, strings.NewReader("1\ny\nn\n"), &out)
	require.Equal(t, exitOK, code, out.String())

	orders := e.box.Orders()
	require.Len(t, orders, 3)
	for _, o := range orders {
		assert.True(t, strings.HasPrefix(o.Email, "test+order"), o.Email)
		assert.Contains(t, o.Payload.Note, "TEST ORDER")
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(e.ledger), "upload_progress.test.json"))
	assert.NoError(t, err)
	_, err = os.Stat(e.ledger)
	assert.True(t, os.IsNotExist(err), "test mode leaves the full ledger alone")
}

func TestRun_DeclinedConfirmationUploadsNothing(t *testing.T) {
	e := setup(t)

	var out bytes.Buffer
	code := run(context.Background(), []string{"-mode", "full"}, strings.NewReader("n\n"), &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "Cancelled.")
	assert.Empty(t, e.box.Orders())
}

func TestRun_MissingCredentials(t *testing.T) {
	e := setup(t)
	t.Setenv("SHOPIFY_ADMIN_API_ACCESS_TOKEN", "")
	t.Setenv("SHOPIFY_PASSWORD", "")

	code := run(context.Background(), []string{"-mode", "full", "-yes"}, strings.NewReader(""), &bytes.Buffer{})
	assert.Equal(t, exitSetup, code)
	assert.Zero(t, e.box.Stats().Calls)
}

func TestRun_CorruptLedger(t *testing.T) {
	e := setup(t)
	require.NoError(t, os.WriteFile(e.ledger, []byte(`{"1": {"status": `), 0o644))

	code := run(context.Background(), []string{"-mode", "full", "-yes"}, strings.NewReader(""), &bytes.Buffer{})
	assert.Equal(t, exitSetup, code)
	assert.Zero(t, e.box.Stats().Calls)
}

func TestRun_MissingInput(t *testing.T) {
	setup(t)
	code := run(context.Background(), []string{"-mode", "full", "-yes", "-input", filepath.Join(t.TempDir(), "nope.json")}, strings.NewReader(""), &bytes.Buffer{})
	assert.Equal(t, exitSetup, code)
}

func TestRun_ClearFlag(t *testing.T) {
	e := setup(t)

	require.Equal(t, exitOK, run(context.Background(), []string{"-mode", "full", "-yes"}, strings.NewReader(""), &bytes.Buffer{}))
	require.Equal(t, exitOK, run(context.Background(), []string{"-mode", "full", "-yes", "-clear"}, strings.NewReader(""), &bytes.Buffer{}))

	assert.Equal(t, 2, e.box.Created("1"), "clearing the ledger forgets earlier uploads")
}

func TestRun_LimitShrinksPreviewAndUpload(t *testing.T) {
	e := setup(t)

	var out bytes.Buffer
	code := run(context.Background(), []string{"-mode", "full", "-limit", "2"}, strings.NewReader("y\n"), &out)
	require.Equal(t, exitOK, code, out.String())

	assert.Contains(t, out.String(), "Upload 2 orders in full mode?")
	assert.Equal(t, 1, e.box.Created("1"))
	assert.Equal(t, 1, e.box.Created("2"))
	assert.Zero(t, e.box.Created("3"))
}

// blockingInput never delivers a line, like a terminal nobody types into
func blockingInput(t *testing.T) io.Reader {
	r, w := io.Pipe()
	t.Cleanup(func() { _ = w.Close() })
	return r
}

func TestRun_InterruptAtMenuPrompt(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan int, 1)
	go func() { done <- run(ctx, nil, blockingInput(t), &bytes.Buffer{}) }()

	select {
	case code := <-done:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("menu prompt ignored the interrupt")
	}
	assert.Zero(t, e.box.Stats().Calls)
}

func TestRun_InterruptAtConfirmation(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan int, 1)
	go func() { done <- run(ctx, []string{"-mode", "full"}, blockingInput(t), &out) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Upload 3 orders in full mode?")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation prompt ignored the interrupt")
	}
	assert.Zero(t, e.box.Stats().Calls)
}

func TestConfigureLogging_UsesConfiguredEnv(t *testing.T) {
	prevLogger, prevLevel := zlog.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		zlog.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	cfg := config.Default()
	cfg.Env = "production"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	configureLogging(cfg, &buf)
	zlog.Info().Msg("hidden")
	zlog.Warn().Str("source_id", "1001").Msg("shown")

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "1001", line["source_id"])

	buf.Reset()
	cfg.Env = "development"
	configureLogging(cfg, &buf)
	zlog.Warn().Msg("pretty")
	assert.False(t, json.Valid(buf.Bytes()))
	assert.Contains(t, buf.String(), "pretty")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
