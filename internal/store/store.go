// Package store provides durable local storage on the companion device:
// the persisted credential and the shared cache values consumed by the
// glanceable budget widget.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// BudgetUsageKey is the fixed cache key under which the fractional
// budget-usage value is shared with the complication widget.
const BudgetUsageKey = "budget_usage_fraction"

// Store wraps the local sqlite database.
type Store struct {
	conn *sql.DB
}

// Open opens the database at path and runs migrations.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credential (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token TEXT NOT NULL,
			issued_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shared_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			return err
		}
	}

	return nil
}

// SaveCredential persists the credential and its issuance timestamp. The
// single row is replaced; the store never holds more than one credential.
func (s *Store) SaveCredential(token string, issuedAt time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO credential (id, token, issued_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, issued_at = excluded.issued_at`,
		token, issuedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// LoadCredential returns the persisted credential, if any.
func (s *Store) LoadCredential() (token string, issuedAt time.Time, ok bool, err error) {
	var nanos int64
	row := s.conn.QueryRow(`SELECT token, issued_at FROM credential WHERE id = 1`)
	if err := row.Scan(&token, &nanos); err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("failed to load credential: %w", err)
	}

	return token, time.Unix(0, nanos), true, nil
}

// SetBudgetUsage writes the fractional budget-usage value (0.0-1.0+) under
// the fixed widget key.
func (s *Store) SetBudgetUsage(fraction float64) error {
	return s.setCache(BudgetUsageKey, strconv.FormatFloat(fraction, 'f', -1, 64))
}

// BudgetUsage returns the cached budget-usage fraction and when it was last
// written. ok is false when no value has ever been cached.
func (s *Store) BudgetUsage() (fraction float64, updatedAt time.Time, ok bool, err error) {
	value, updatedAt, ok, err := s.getCache(BudgetUsageKey)
	if err != nil || !ok {
		return 0, time.Time{}, ok, err
	}

	fraction, err = strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("corrupt budget usage cache value %q: %w", value, err)
	}

	return fraction, updatedAt, true, nil
}

func (s *Store) setCache(key, value string) error {
	_, err := s.conn.Exec(
		`INSERT INTO shared_cache (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache key %q: %w", key, err)
	}
	return nil
}

func (s *Store) getCache(key string) (value string, updatedAt time.Time, ok bool, err error) {
	var nanos int64
	row := s.conn.QueryRow(`SELECT value, updated_at FROM shared_cache WHERE key = ?`, key)
	if err := row.Scan(&value, &nanos); err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("failed to read cache key %q: %w", key, err)
	}

	return value, time.Unix(0, nanos), true, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
