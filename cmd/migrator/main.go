package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/order-migrator/internal/auth"
	"github.com/ksred/order-migrator/internal/config"
	"github.com/ksred/order-migrator/internal/database"
	"github.com/ksred/order-migrator/internal/ledger"
	"github.com/ksred/order-migrator/internal/metrics"
	"github.com/ksred/order-migrator/internal/mode"
	"github.com/ksred/order-migrator/internal/normalizer"
	"github.com/ksred/order-migrator/internal/shopify"
	"github.com/ksred/order-migrator/internal/status"
	"github.com/ksred/order-migrator/internal/types"
	"github.com/ksred/order-migrator/internal/upload"
)

const (
	exitOK          = 0
	exitSetup       = 1
	exitInterrupted = 130
)

// init configures logging from the environment; configureLogging applies the
// loaded config on top once it is known.
func init() {
	_ = godotenv.Load()

	zlog.Logger = newLogger(os.Getenv("ENV"), os.Stderr)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// newLogger logs JSON in production and pretty-prints otherwise
func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "production" {
		return zerolog.New(w).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

func configureLogging(cfg *config.Config, w io.Writer) {
	zlog.Logger = newLogger(cfg.Env, w)
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(level)
	}
}

type flags struct {
	configPath string
	mode       string
	input      string
	ledgerDSN  string
	statusAddr string
	limit      int
	yes        bool
	clear      bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("migrator", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.mode, "mode", "", "run mode: test or full (prompts when empty)")
	fs.StringVar(&f.input, "input", "", "normalized order export (JSON array)")
	fs.StringVar(&f.ledgerDSN, "ledger", "", "ledger location: file path, sqlite://, postgres:// or memory://")
	fs.StringVar(&f.statusAddr, "status-addr", "", "serve run status on this address, e.g. :8090")
	fs.IntVar(&f.limit, "limit", 0, "only process the first N records of the plan (0 = all)")
	fs.BoolVar(&f.yes, "yes", false, "skip confirmation prompts")
	fs.BoolVar(&f.clear, "clear", false, "clear the ledger of the selected mode before running")
	err := fs.Parse(args)
	return f, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// app carries what every menu action needs
type app struct {
	cfg    *config.Config
	flags  flags
	creds  auth.Credentials
	orders []types.Order
	con    *console
	out    io.Writer
}

// run returns the process exit code. Cancelling ctx interrupts prompts as
// well as uploads.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	f, err := parseFlags(args)
	if err != nil {
		return exitSetup
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to load configuration")
		return exitSetup
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		zlog.Error().Err(err).Msg("invalid configuration")
		return exitSetup
	}
	configureLogging(cfg, os.Stderr)

	creds, err := auth.FromEnv()
	if err != nil {
		zlog.Error().Err(err).Msg("missing store credentials, set them in the environment or .env")
		return exitSetup
	}

	norm, err := normalizer.New()
	if err != nil {
		zlog.Error().Err(err).Msg("failed to prepare record validation")
		return exitSetup
	}
	loaded, err := norm.LoadFile(cfg.InputFiles)
	if err != nil {
		zlog.Error().Err(err).Msg("failed to load orders")
		return exitSetup
	}
	for _, s := range loaded.Skipped {
		zlog.Warn().Str("source_id", s.SourceID).Int("index", s.Index).Str("reason", s.Reason).Msg("record skipped")
	}

	con := newConsole(stdin, stdout)
	defer con.close()

	a := &app{
		cfg:    cfg,
		flags:  f,
		creds:  creds,
		orders: loaded.Orders,
		con:    con,
		out:    stdout,
	}

	fmt.Fprintf(stdout, "Loaded %d orders from %s (%d skipped)\n", len(loaded.Orders), loaded.Path, len(loaded.Skipped))

	if f.mode != "" {
		m, err := mode.Parse(f.mode)
		if err != nil {
			zlog.Error().Err(err).Msg("invalid mode")
			return exitSetup
		}
		if f.clear {
			if code := a.clearLedger(ctx, m); code != exitOK {
				return code
			}
		}
		return a.migrate(ctx, m)
	}
	return a.menu(ctx)
}

func applyFlags(cfg *config.Config, f flags) {
	if f.input != "" {
		cfg.InputFiles = []string{f.input}
	}
	if f.ledgerDSN != "" {
		cfg.LedgerDSN = f.ledgerDSN
	}
	if f.statusAddr != "" {
		cfg.StatusAddr = f.statusAddr
	}
}

// menu offers the interactive choices until a run finishes or the operator exits
func (a *app) menu(ctx context.Context) int {
	for {
		fmt.Fprintln(a.out, "\nChoose an option:")
		fmt.Fprintf(a.out, "  1. Test upload (%d orders, test contact details)\n", a.cfg.Test.Count)
		fmt.Fprintln(a.out, "  2. Full migration")
		fmt.Fprintln(a.out, "  3. Clear progress")
		fmt.Fprintln(a.out, "  4. Exit")

		choice, err := a.con.prompt(ctx, "Enter choice (1-4): ")
		if err != nil {
			if ctx.Err() != nil {
				return exitInterrupted
			}
			return exitOK
		}

		switch choice {
		case "1":
			code := a.migrate(ctx, mode.Test)
			if code != exitOK {
				return code
			}
			if a.con.confirm(ctx, "Test upload finished. Run the full migration now? (y/n): ") {
				return a.migrate(ctx, mode.Full)
			}
			if ctx.Err() != nil {
				return exitInterrupted
			}
			return exitOK
		case "2":
			return a.migrate(ctx, mode.Full)
		case "3":
			if a.con.confirm(ctx, "Clear all full-run progress? Already uploaded orders would be uploaded again. (y/n): ") {
				if code := a.clearLedger(ctx, mode.Full); code != exitOK {
					return code
				}
				fmt.Fprintln(a.out, "Progress cleared.")
			}
		case "4", "q", "exit":
			return exitOK
		default:
			fmt.Fprintln(a.out, "Invalid choice.")
		}
	}
}

func (a *app) openLedger(ctx context.Context, namespace string) (*ledger.Ledger, error) {
	store, err := database.OpenLedgerStore(a.cfg.LedgerDSN, namespace)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return l, nil
}

func (a *app) clearLedger(ctx context.Context, m mode.Mode) int {
	l, err := a.openLedger(ctx, m.Namespace())
	if err != nil {
		zlog.Error().Err(err).Msg("failed to open ledger")
		return exitSetup
	}
	defer l.Close()

	if err := l.Clear(ctx); err != nil {
		zlog.Error().Err(err).Msg("failed to clear ledger")
		return exitSetup
	}
	zlog.Info().Str("namespace", m.Namespace()).Msg("ledger cleared")
	return exitOK
}

// migrate runs one mode end to end and maps the outcome to an exit code
func (a *app) migrate(ctx context.Context, m mode.Mode) int {
	logger := zlog.With().Str("component", "migrator").Str("mode", string(m)).Logger()

	plan := mode.Select(m, a.orders, mode.Options{
		TestCount:    a.cfg.Test.Count,
		TestEmails:   a.cfg.Test.Emails,
		EmailPattern: a.cfg.Test.EmailPattern,
		Seed:         a.cfg.Test.Seed,
	})
	if a.flags.limit > 0 && len(plan.Orders) > a.flags.limit {
		plan.Orders = plan.Orders[:a.flags.limit]
	}

	l, err := a.openLedger(ctx, plan.Namespace)
	if err != nil {
		if errors.Is(err, ledger.ErrCorruptLedger) {
			logger.Error().Err(err).Msg("ledger is corrupt; fix or clear it before running again")
		} else {
			logger.Error().Err(err).Msg("failed to open ledger")
		}
		return exitSetup
	}
	defer l.Close()

	preview := upload.NewPreview(plan.Orders, l.IsDone, a.cfg.API.RequestsPerSecond)
	preview.Print(a.out)
	if preview.Remaining == 0 {
		fmt.Fprintln(a.out, "Nothing left to upload.")
		return exitOK
	}
	if !a.flags.yes && !a.con.confirm(ctx, fmt.Sprintf("Upload %d orders in %s mode? (y/n): ", preview.Remaining, m)) {
		if ctx.Err() != nil {
			return exitInterrupted
		}
		fmt.Fprintln(a.out, "Cancelled.")
		return exitOK
	}

	recorder := metrics.NewRecorder()
	client, err := shopify.NewClient(a.creds, shopify.Options{
		BaseURL:              a.cfg.API.BaseURL,
		APIVersion:           a.cfg.API.Version,
		Timeout:              a.cfg.API.Timeout,
		RequestsPerSecond:    a.cfg.API.RequestsPerSecond,
		Burst:                a.cfg.API.Burst,
		BaseDelay:            a.cfg.API.BaseDelay,
		MaxDelay:             a.cfg.API.MaxDelay,
		MaxThrottleAttempts:  a.cfg.API.MaxThrottleAttempts,
		MaxTransientAttempts: a.cfg.API.MaxTransientAttempts,
		Observer:             recorder,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create API client")
		return exitSetup
	}

	engine := upload.NewEngine(client, l, upload.Options{
		Namespace: plan.Namespace,
		Observer:  recorder,
	})

	if a.cfg.StatusAddr != "" {
		srv := status.New(l, engine.Progress, recorder.Handler())
		if err := srv.Start(a.cfg.StatusAddr); err != nil {
			logger.Error().Err(err).Msg("failed to start status server")
			return exitSetup
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("status server forced to shutdown")
			}
		}()
	}

	logger.Info().Str("endpoint", client.Endpoint()).Int("orders", len(plan.Orders)).Msg("starting migration")
	summary, err := engine.Run(ctx, plan.Orders)
	summary.Print(a.out)

	stats := client.Stats()
	logger.Info().
		Int64("requests", stats.Requests).
		Int64("throttled", stats.Throttled).
		Int64("retries", stats.Retries).
		Msg("api usage")

	switch {
	case err != nil:
		logger.Error().Err(err).Msg("migration aborted")
		return exitSetup
	case summary.Interrupted:
		return exitInterrupted
	}
	return exitOK
}

// console hands operator input to prompts line by line, so a prompt can
// give up when the run is interrupted instead of blocking on stdin
type console struct {
	out   io.Writer
	lines chan string
	done  chan struct{}
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{out: out, lines: make(chan string), done: make(chan struct{})}
	go c.read(in)
	return c
}

func (c *console) read(in io.Reader) {
	defer close(c.lines)
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case c.lines <- strings.TrimSpace(line):
			case <-c.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *console) close() {
	close(c.done)
}

func (c *console) prompt(ctx context.Context, question string) (string, error) {
	fmt.Fprint(c.out, question)
	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

func (c *console) confirm(ctx context.Context, question string) bool {
	answer, err := c.prompt(ctx, question)
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}
