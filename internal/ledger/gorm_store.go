package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps ledger entries as rows of the ledger_entries table. The
// schema is created by the database migrations.
type GormStore struct {
	db        *gorm.DB
	namespace string
	owned     bool
}

// NewGormStore wraps an open connection. When owned is true Close also closes
// the connection pool.
func NewGormStore(db *gorm.DB, namespace string, owned bool) *GormStore {
	if namespace == "" {
		namespace = NamespaceFull
	}
	return &GormStore{db: db, namespace: namespace, owned: owned}
}

func (s *GormStore) Load(ctx context.Context) (map[string]Entry, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Where("namespace = ?", s.namespace).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}

	entries := make(map[string]Entry, len(records))
	for _, r := range records {
		if _, dup := entries[r.SourceID]; dup {
			return nil, fmt.Errorf("%w: duplicate rows for %q", ErrCorruptLedger, r.SourceID)
		}
		entries[r.SourceID] = r.entry()
	}
	return entries, nil
}

// Save upserts the changed entries in a single transaction
func (s *GormStore) Save(ctx context.Context, entries map[string]Entry, changed []string) error {
	if len(changed) == 0 {
		return nil
	}

	records := make([]Record, 0, len(changed))
	for _, id := range changed {
		e, ok := entries[id]
		if !ok {
			continue
		}
		e.SourceID = id
		records = append(records, recordFrom(s.namespace, e))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "namespace"}, {Name: "source_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"status", "remote_id", "last_attempt", "error", "attempts", "updated_at",
				}),
			}).Create(&records[i]).Error
			if err != nil {
				return fmt.Errorf("upsert ledger entry %s: %w", records[i].SourceID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Unscoped().Where("namespace = ?", s.namespace).Delete(&Record{}).Error
}

func (s *GormStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
