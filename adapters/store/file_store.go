package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FileStore persists entries as one JSON document, rewritten on every change.
// It plays the role browser local storage plays for a web client.
type FileStore struct {
	path  string
	clock core.Clock
	log   logrus.FieldLogger
	mu    sync.Mutex
}

// NewFileStore stores entries in dir/store.json. An unreadable document is
// moved aside and the store starts empty.
func NewFileStore(dir string, clock core.Clock, log logrus.FieldLogger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &FileStore{
		path:  filepath.Join(dir, "store.json"),
		clock: clock,
		log:   log.WithField("component", "file-store"),
	}, nil
}

var _ ports.Store = (*FileStore)(nil)

func (s *FileStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.clock.Now().Add(ttl)
	}
	entries[key] = entry
	return s.save(entries)
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", err
	}
	entry, ok := entries[key]
	if !ok {
		return "", core.ErrKeyNotFound
	}
	if !entry.ExpiresAt.IsZero() && !s.clock.Now().Before(entry.ExpiresAt) {
		delete(entries, key)
		if err := s.save(entries); err != nil {
			return "", err
		}
		return "", core.ErrKeyNotFound
	}
	return entry.Value, nil
}

func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(entries, key)
	}
	return s.save(entries)
}

// load reads the document; a missing or corrupt file is an empty store.
func (s *FileStore) load() (map[string]fileEntry, error) {
	entries := make(map[string]fileEntry)
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	if len(b) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(b, &entries); err != nil {
		aside := s.path + ".corrupt"
		s.log.WithError(err).WithField("moved_to", aside).Warn("discarding unreadable store")
		if err := os.Rename(s.path, aside); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
		}
		return make(map[string]fileEntry), nil
	}
	return entries, nil
}

// save writes via a temp file then rename.
func (s *FileStore) save(entries map[string]fileEntry) error {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}
