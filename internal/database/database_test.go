package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/order-migrator/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		backend  string
		location string
	}{
		{"data/upload_progress.json", BackendFile, "data/upload_progress.json"},
		{"file:///tmp/ledger.json", BackendFile, "/tmp/ledger.json"},
		{"sqlite://data/ledger.db", BackendSQLite, "data/ledger.db"},
		{"postgres://u:p@localhost:5432/migrator", BackendPostgres, "postgres://u:p@localhost:5432/migrator"},
		{"memory://", BackendMemory, ""},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			backend, location, err := ParseDSN(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, backend)
			assert.Equal(t, tt.location, location)
		})
	}
}

func TestParseDSN_Errors(t *testing.T) {
	_, _, err := ParseDSN("  ")
	assert.Error(t, err)

	_, _, err = ParseDSN("redis://localhost")
	assert.Error(t, err)
}

func TestOpenLedgerStore_FileNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload_progress.json")

	full, err := OpenLedgerStore(path, ledger.NamespaceFull)
	require.NoError(t, err)
	test, err := OpenLedgerStore(path, ledger.NamespaceTest)
	require.NoError(t, err)

	assert.Equal(t, path, full.(*ledger.FileStore).Path())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "upload_progress.test.json"), test.(*ledger.FileStore).Path())
}

func TestOpenLedgerStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "nested", "ledger.db")

	store, err := OpenLedgerStore(dsn, ledger.NamespaceFull)
	require.NoError(t, err)

	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccess(ctx, "100", "5550001", 1))
	require.NoError(t, l.RecordFailure(ctx, "101", assert.AnError, 3))
	require.NoError(t, l.RecordSuccess(ctx, "101", "5550002", 1))
	require.NoError(t, l.Close())

	reopened, err := OpenLedgerStore(dsn, ledger.NamespaceFull)
	require.NoError(t, err)
	defer reopened.Close()

	l2, err := ledger.Open(ctx, reopened)
	require.NoError(t, err)
	assert.True(t, l2.IsDone("100"))
	assert.True(t, l2.IsDone("101"))

	e, ok := l2.Get("101")
	require.True(t, ok)
	assert.Equal(t, "5550002", e.RemoteID)
	assert.Empty(t, e.Error)
	assert.Equal(t, ledger.Counts{Uploaded: 2}, l2.Counts())

	// the test namespace shares the table but not the rows
	testStore, err := OpenLedgerStore(dsn, ledger.NamespaceTest)
	require.NoError(t, err)
	defer testStore.Close()
	l3, err := ledger.Open(ctx, testStore)
	require.NoError(t, err)
	assert.False(t, l3.IsDone("100"))
}

func TestOpenLedgerStore_SQLiteClear(t *testing.T) {
	ctx := context.Background()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "ledger.db")

	store, err := OpenLedgerStore(dsn, ledger.NamespaceTest)
	require.NoError(t, err)
	defer store.Close()

	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	require.NoError(t, l.RecordSuccess(ctx, "1", "9", 1))
	require.NoError(t, l.Clear(ctx))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGormStore_LoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("query failure is not corruption", func(t *testing.T) {
		db, err := NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		store := ledger.NewGormStore(db, ledger.NamespaceFull, true)
		require.NoError(t, store.Close())

		_, err = ledger.Open(ctx, store)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ledger.ErrCorruptLedger), err.Error())
	})

	t.Run("unknown status is corruption", func(t *testing.T) {
		db, err := NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		store := ledger.NewGormStore(db, ledger.NamespaceFull, true)
		defer store.Close()

		require.NoError(t, db.Create(&ledger.Record{
			Namespace:   ledger.NamespaceFull,
			SourceID:    "7",
			Status:      "shipped",
			LastAttempt: time.Now(),
		}).Error)

		_, err = ledger.Open(ctx, store)
		assert.True(t, errors.Is(err, ledger.ErrCorruptLedger))
	})
}
