package ledger

import (
	"time"

	"gorm.io/gorm"
)

// Status of a source record in the ledger
type Status string

const (
	StatusPending  Status = "pending"
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploaded, StatusFailed:
		return true
	}
	return false
}

// Namespaces keep rehearsal runs apart from the real migration
const (
	NamespaceFull = "full"
	NamespaceTest = "test"
)

// Entry is the upload outcome of a single source record
type Entry struct {
	SourceID    string    `json:"-"`
	Status      Status    `json:"status"`
	RemoteID    string    `json:"remoteId,omitempty"`
	LastAttempt time.Time `json:"lastAttempt"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
}

// Record is the database row backing an Entry
type Record struct {
	gorm.Model  `json:"-"`
	Namespace   string    `gorm:"uniqueIndex:idx_ledger_entries_ns_source;size:32;not null" json:"namespace"`
	SourceID    string    `gorm:"uniqueIndex:idx_ledger_entries_ns_source;size:191;not null" json:"source_id"`
	Status      string    `gorm:"size:16;not null" json:"status"`
	RemoteID    string    `json:"remote_id"`
	LastAttempt time.Time `json:"last_attempt"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
}

// TableName pins the table name used by migrations and raw index SQL
func (Record) TableName() string {
	return "ledger_entries"
}

func (r Record) entry() Entry {
	return Entry{
		SourceID:    r.SourceID,
		Status:      Status(r.Status),
		RemoteID:    r.RemoteID,
		LastAttempt: r.LastAttempt,
		Error:       r.Error,
		Attempts:    r.Attempts,
	}
}

func recordFrom(namespace string, e Entry) Record {
	return Record{
		Namespace:   namespace,
		SourceID:    e.SourceID,
		Status:      string(e.Status),
		RemoteID:    e.RemoteID,
		LastAttempt: e.LastAttempt,
		Error:       e.Error,
		Attempts:    e.Attempts,
	}
}
