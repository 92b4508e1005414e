package migrations

import (
	"github.com/ksred/order-migrator/internal/ledger"
	"gorm.io/gorm"
)

// AddLedgerEntries creates the ledger table and the indexes used by resume
// and status queries
func AddLedgerEntries(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.Record{}); err != nil {
		return err
	}

	indexes := []string{
		// Status breakdown per namespace
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_ns_status
		 ON ledger_entries(namespace, status)`,

		// Operator queries by last attempt
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_last_attempt
		 ON ledger_entries(last_attempt)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
