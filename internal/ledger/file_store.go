package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the ledger as a single JSON document. Saves go through a
// temporary file that is synced and renamed over the document, so a crash
// leaves either the old or the new version on disk. A progress file in the
// older completed_orders layout is imported on load and rewritten in the
// current layout on the next save.
type FileStore struct {
	path string
}

// NewFileStore creates a file store for the namespace. The full namespace
// uses path as given; any other namespace gets a sibling file such as
// upload_progress.test.json.
func NewFileStore(path, namespace string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ledger file path is required")
	}
	return &FileStore{path: NamespacedPath(path, namespace)}, nil
}

// NamespacedPath derives the document location for a namespace
func NamespacedPath(path, namespace string) string {
	if namespace == "" || namespace == NamespaceFull {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + namespace + ext
}

// Path returns the document location
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorruptLedger, s.path)
	}

	if legacy, ok, err := parseLegacy(data); ok {
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptLedger, s.path, err)
		}
		return legacy, nil
	}

	var doc map[string]Entry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptLedger, s.path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrCorruptLedger, s.path)
	}
	return doc, nil
}

func (s *FileStore) Save(ctx context.Context, entries map[string]Entry, changed []string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
