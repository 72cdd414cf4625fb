package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	_ "modernc.org/sqlite"

	"github.com/cwygoda/printq/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_entries (
    position   INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS job_settings (
    identifier TEXT PRIMARY KEY,
    quantity   INTEGER NOT NULL DEFAULT 1,
    is_a3      INTEGER NOT NULL DEFAULT 0
);
`

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryDelay    = 10 * time.Millisecond
	busyRetryMaxDelay = 200 * time.Millisecond
)

// Store implements domain.QueueStore using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the queue database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// The share inbox and the CLI may hold the database open at the same time.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// LoadQueue returns the stored identifiers in insertion order.
func (s *Store) LoadQueue(ctx context.Context) ([]string, error) {
	var queue []string
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT identifier FROM queue_entries ORDER BY position ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		queue = queue[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			queue = append(queue, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return queue, nil
}

// SaveQueue replaces the stored queue.
func (s *Store) SaveQueue(ctx context.Context, queue []string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries`); err != nil {
			return err
		}
		for _, id := range queue {
			if _, err := tx.ExecContext(ctx, `INSERT INTO queue_entries (identifier) VALUES (?)`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// AppendQueue adds identifier to the end of the stored queue without
// reading it first. Duplicates are merged by the next queue reload.
func (s *Store) AppendQueue(ctx context.Context, identifier string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO queue_entries (identifier) VALUES (?)`, identifier)
		return err
	})
	if err != nil {
		return fmt.Errorf("append queue: %w", err)
	}
	return nil
}

// ClearQueue removes every stored identifier.
func (s *Store) ClearQueue(ctx context.Context) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries`)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// LoadSettings returns the stored settings, normalized.
func (s *Store) LoadSettings(ctx context.Context) (map[string]domain.DocumentSettings, error) {
	settings := make(map[string]domain.DocumentSettings)
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT identifier, quantity, is_a3 FROM job_settings`)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(settings)
		for rows.Next() {
			var (
				id string
				ds domain.DocumentSettings
			)
			if err := rows.Scan(&id, &ds.Quantity, &ds.IsA3); err != nil {
				return err
			}
			settings[id] = ds.Normalize()
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// SaveSettings replaces the stored settings.
func (s *Store) SaveSettings(ctx context.Context, settings map[string]domain.DocumentSettings) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_settings`); err != nil {
			return err
		}
		for id, ds := range settings {
			ds = ds.Normalize()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_settings (identifier, quantity, is_a3) VALUES (?, ?, ?)`,
				id, ds.Quantity, ds.IsA3,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ClearSettings removes every stored settings entry.
func (s *Store) ClearSettings(ctx context.Context) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM job_settings`)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(busyRetryAttempts),
		retry.Delay(busyRetryDelay),
		retry.MaxDelay(busyRetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
