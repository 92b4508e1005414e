// Package ledger tracks the upload outcome of every source record so that a
// migration can be stopped and resumed without creating duplicate orders.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrCorruptLedger   = errors.New("ledger is corrupt")
	ErrAlreadyUploaded = errors.New("source record already uploaded")
	ErrEmptySourceID   = errors.New("source id is required")
)

// Store persists ledger entries for one namespace
type Store interface {
	// Load returns every persisted entry keyed by source id. A missing ledger
	// yields an empty map; an unreadable one wraps ErrCorruptLedger.
	Load(ctx context.Context) (map[string]Entry, error)
	// Save atomically persists the mapping. changed lists the source ids
	// modified since the previous Save; stores that write per entry may
	// persist only those.
	Save(ctx context.Context, entries map[string]Entry, changed []string) error
	// Clear removes every entry of the namespace.
	Clear(ctx context.Context) error
	Close() error
}

// Counts summarises the ledger by status
type Counts struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Ledger is the in-memory view of a Store. Every recorded outcome is flushed
// before the call returns.
type Ledger struct {
	store Store
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   map[string]struct{}
}

// Open loads the ledger from store
func Open(ctx context.Context, store Store) (*Ledger, error) {
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	for id, e := range entries {
		if !e.Status.Valid() {
			return nil, fmt.Errorf("%w: entry %q has unknown status %q", ErrCorruptLedger, id, e.Status)
		}
		e.SourceID = id
		entries[id] = e
	}
	return &Ledger{
		store:   store,
		now:     time.Now,
		entries: entries,
		dirty:   make(map[string]struct{}),
	}, nil
}

// IsDone reports whether the source record has already been uploaded
func (l *Ledger) IsDone(sourceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[sourceID]
	return ok && e.Status == StatusUploaded
}

// Get returns the entry for a source record
func (l *Ledger) Get(sourceID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[sourceID]
	return e, ok
}

// RecordSuccess marks the source record uploaded and flushes
func (l *Ledger) RecordSuccess(ctx context.Context, sourceID, remoteID string, attempts int) error {
	if sourceID == "" {
		return ErrEmptySourceID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[sourceID]; ok && existing.Status == StatusUploaded && existing.RemoteID != remoteID {
		return fmt.Errorf("%w: %s is already remote order %s", ErrAlreadyUploaded, sourceID, existing.RemoteID)
	}

	l.entries[sourceID] = Entry{
		SourceID:    sourceID,
		Status:      StatusUploaded,
		RemoteID:    remoteID,
		LastAttempt: l.now().UTC(),
		Attempts:    attempts,
	}
	l.dirty[sourceID] = struct{}{}
	return l.flushLocked(ctx)
}

// RecordFailure marks the source record failed and flushes. An uploaded
// record is never downgraded.
func (l *Ledger) RecordFailure(ctx context.Context, sourceID string, cause error, attempts int) error {
	if sourceID == "" {
		return ErrEmptySourceID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[sourceID]; ok && existing.Status == StatusUploaded {
		return fmt.Errorf("%w: %s", ErrAlreadyUploaded, sourceID)
	}

	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	l.entries[sourceID] = Entry{
		SourceID:    sourceID,
		Status:      StatusFailed,
		LastAttempt: l.now().UTC(),
		Error:       detail,
		Attempts:    attempts,
	}
	l.dirty[sourceID] = struct{}{}
	return l.flushLocked(ctx)
}

// Flush persists the current mapping
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

func (l *Ledger) flushLocked(ctx context.Context) error {
	changed := make([]string, 0, len(l.dirty))
	for id := range l.dirty {
		changed = append(changed, id)
	}
	sort.Strings(changed)

	if err := l.store.Save(ctx, l.entries, changed); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	l.dirty = make(map[string]struct{})
	return nil
}

// Clear drops every entry of the namespace, in memory and in the store
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	l.entries = make(map[string]Entry)
	l.dirty = make(map[string]struct{})
	return nil
}

// Counts returns the number of entries per status
func (l *Ledger) Counts() Counts {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var c Counts
	for _, e := range l.entries {
		switch e.Status {
		case StatusUploaded:
			c.Uploaded++
		case StatusFailed:
			c.Failed++
		case StatusPending:
			c.Pending++
		}
	}
	return c
}

// Entries returns a snapshot of all entries sorted by source id
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Failed returns a snapshot of the failed entries sorted by source id
func (l *Ledger) Failed() []Entry {
	var failed []Entry
	for _, e := range l.Entries() {
		if e.Status == StatusFailed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Close releases the underlying store
func (l *Ledger) Close() error {
	return l.store.Close()
}
