// Package filestore implements domain.QueueStore as a single JSON document
// guarded by an advisory file lock, for setups where SQLite is unavailable.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/cwygoda/printq/internal/domain"
)

const lockRetryDelay = 20 * time.Millisecond

// ErrLocked is returned when the lock could not be taken before ctx ended.
var ErrLocked = errors.New("queue file is locked")

type document struct {
	Queue    []string                           `json:"queue"`
	Settings map[string]domain.DocumentSettings `json:"settings"`
}

// Store keeps the queue and settings in one JSON file. Writes go through a
// temporary file and rename so readers never see a partial document.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// Open returns a store for path, creating its directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Path returns the JSON file location.
func (s *Store) Path() string { return s.path }

// Close releases the lock file handle.
func (s *Store) Close() error { return s.lock.Close() }

func (s *Store) LoadQueue(ctx context.Context) ([]string, error) {
	var queue []string
	err := s.view(ctx, func(doc *document) {
		queue = doc.Queue
	})
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return queue, nil
}

func (s *Store) SaveQueue(ctx context.Context, queue []string) error {
	err := s.update(ctx, func(doc *document) {
		doc.Queue = append([]string(nil), queue...)
	})
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// AppendQueue adds identifier to the end of the stored queue. Duplicates are
// merged by the next queue reload.
func (s *Store) AppendQueue(ctx context.Context, identifier string) error {
	err := s.update(ctx, func(doc *document) {
		doc.Queue = append(doc.Queue, identifier)
	})
	if err != nil {
		return fmt.Errorf("append queue: %w", err)
	}
	return nil
}

func (s *Store) ClearQueue(ctx context.Context) error {
	err := s.update(ctx, func(doc *document) {
		doc.Queue = nil
	})
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (map[string]domain.DocumentSettings, error) {
	var settings map[string]domain.DocumentSettings
	err := s.view(ctx, func(doc *document) {
		settings = domain.NormalizeAll(doc.Settings)
	})
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings map[string]domain.DocumentSettings) error {
	err := s.update(ctx, func(doc *document) {
		doc.Settings = domain.NormalizeAll(settings)
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *Store) ClearSettings(ctx context.Context) error {
	err := s.update(ctx, func(doc *document) {
		doc.Settings = nil
	})
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

func (s *Store) view(ctx context.Context, fn func(*document)) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		fn(doc)
		return nil
	})
}

func (s *Store) update(ctx context.Context, fn func(*document)) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		fn(doc)
		return s.write(doc)
	})
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrLocked, ctx.Err())
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func (s *Store) read() (*document, error) {
	doc := &document{Settings: make(map[string]domain.DocumentSettings)}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Settings == nil {
		doc.Settings = make(map[string]domain.DocumentSettings)
	}
	return doc, nil
}

func (s *Store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}
