package line

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var tokenKeyClean = regexp.MustCompile(`[^A-Za-z0-9-]`)

// FileTokenStore persists token records as JSON files in a directory, one file
// per conversation identity. Writes are last-writer-wins across processes.
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore creates a store rooted at dir; empty dir means the OS temp
// directory.
func NewFileTokenStore(dir string) *FileTokenStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileTokenStore{dir: dir}
}

func (s *FileTokenStore) path(key string) string {
	return filepath.Join(s.dir, "cached-line-accesstoken-"+tokenKeyClean.ReplaceAllString(key, ""))
}

func (s *FileTokenStore) Load(_ context.Context, key string) (TokenRecord, bool, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return TokenRecord{}, false, nil
		}
		return TokenRecord{}, false, fmt.Errorf("read token cache: %w", err)
	}
	var record TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		// A corrupt cache file is equivalent to a missing one.
		return TokenRecord{}, false, nil
	}
	return record, true, nil
}

func (s *FileTokenStore) Store(_ context.Context, key string, record TokenRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	if err := os.WriteFile(s.path(key), raw, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}

// MemoryTokenStore is an in-process TokenStore for tests and single-instance runs.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	records map[string]TokenRecord
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{records: make(map[string]TokenRecord)}
}

func (s *MemoryTokenStore) Load(_ context.Context, key string) (TokenRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	return record, ok, nil
}

func (s *MemoryTokenStore) Store(_ context.Context, key string, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}
