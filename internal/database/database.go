package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ksred/order-migrator/internal/database/migrations"
	"github.com/ksred/order-migrator/internal/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Backend names returned by ParseDSN
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ParseDSN splits a ledger DSN into its backend and backend-specific location.
// A DSN without a scheme is a file path.
func ParseDSN(dsn string) (backend, location string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("ledger DSN is empty")
	}

	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return BackendFile, dsn, nil
	}

	switch strings.ToLower(scheme) {
	case "file":
		return BackendFile, rest, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, rest, nil
	case "postgres", "postgresql":
		return BackendPostgres, dsn, nil
	case "memory", "mem", "inmem":
		return BackendMemory, "", nil
	default:
		return "", "", fmt.Errorf("unsupported ledger scheme: %s", scheme)
	}
}

// NewDatabase opens a GORM connection for a sqlite or postgres ledger DSN and
// runs the migrations
func NewDatabase(dsn string) (*gorm.DB, error) {
	backend, location, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch backend {
	case BackendSQLite:
		if location == "" {
			return nil, fmt.Errorf("sqlite ledger DSN needs a path")
		}
		if dir := filepath.Dir(strings.SplitN(location, "?", 2)[0]); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create ledger directory: %w", err)
			}
		}
		if !strings.Contains(location, "?") {
			location += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		dialector = sqlite.Open(location)
	case BackendPostgres:
		dialector = postgres.Open(location)
	default:
		return nil, fmt.Errorf("backend %s is not a database", backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerEntries(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// OpenLedgerStore builds the ledger store selected by dsn for a namespace
func OpenLedgerStore(dsn, namespace string) (ledger.Store, error) {
	backend, location, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendFile:
		return ledger.NewFileStore(location, namespace)
	case BackendMemory:
		return ledger.NewMemoryStore(), nil
	default:
		db, err := NewDatabase(dsn)
		if err != nil {
			return nil, err
		}
		return ledger.NewGormStore(db, namespace, true), nil
	}
}
