package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileStore keeps the counters in small JSON files whose shape is
// shared with the operator tooling:
//
//	rate_limit.json       [{"type":"群组","id":"12345","rate":10}]
//	rate_usage.json       [{"type":"群组","id":"12345","count":3,"time":14,"day":27}]
//
// plus a matching pair for drawing quotas. A single mutex guards each
// read-modify-write.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	logger *logrus.Logger
}

// NewFileStore creates the store, ensuring the data directory exists.
func NewFileStore(dir string, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now, logger: logger}, nil
}

func (s *FileStore) limitPath(kind Kind) string {
	if kind == KindDraw {
		return filepath.Join(s.dir, "rate_limit_draw.json")
	}
	return filepath.Join(s.dir, "rate_limit.json")
}

func (s *FileStore) usagePath(kind Kind) string {
	if kind == KindDraw {
		return filepath.Join(s.dir, "rate_usage_draw.json")
	}
	return filepath.Join(s.dir, "rate_usage.json")
}

func readJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", path, err)
	}
	return out, nil
}

func writeJSON[T any](path string, entries []T) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) GetLimit(ctx context.Context, kind Kind, scope, id string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readJSON[LimitEntry](s.limitPath(kind))
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.Type == scope && e.ID == id {
			return e.Rate, true, nil
		}
	}
	return 0, false, nil
}

func (s *FileStore) SetLimit(ctx context.Context, kind Kind, scope, id string, rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.limitPath(kind)
	entries, err := readJSON[LimitEntry](path)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Type == scope && entries[i].ID == id {
			entries[i].Rate = rate
			return writeJSON(path, entries)
		}
	}
	entries = append(entries, LimitEntry{Type: scope, ID: id, Rate: rate})
	return writeJSON(path, entries)
}

func (s *FileStore) GetUsage(ctx context.Context, kind Kind, scope, id string) (*UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := readJSON[UsageEntry](s.usagePath(kind))
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range entries {
		if entries[i].Type == scope && entries[i].ID == id {
			u := entries[i]
			rollover(&u, now)
			return &u, nil
		}
	}
	return &UsageEntry{Type: scope, ID: id, Time: now.Hour(), Day: now.Day()}, nil
}

func (s *FileStore) IncrementUsage(ctx context.Context, kind Kind, scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.usagePath(kind)
	entries, err := readJSON[UsageEntry](path)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range entries {
		if entries[i].Type == scope && entries[i].ID == id {
			rollover(&entries[i], now)
			entries[i].Count++
			return writeJSON(path, entries)
		}
	}
	entries = append(entries, UsageEntry{Type: scope, ID: id, Count: 1, Time: now.Hour(), Day: now.Day()})
	return writeJSON(path, entries)
}
