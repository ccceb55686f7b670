// Package store is the SQLite-backed persistence layer: router profiles,
// imported peers, usage samples with daily/monthly rollups, quotas, the
// enforcement action log and runtime settings.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
)

// Store wraps the SQLite database. All methods are safe for concurrent
// use; multi-table updates run in transactions.
type Store struct {
	db     *sql.DB
	box    *secrets.Box
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and initialises the
// schema. Router passwords are sealed with box before hitting disk.
func Open(path string, box *secrets.Box, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, box: box, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS routers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  host TEXT NOT NULL,
  proto TEXT NOT NULL DEFAULT 'rest',
  port INTEGER NOT NULL DEFAULT 0,
  username TEXT NOT NULL DEFAULT '',
  password_enc TEXT NOT NULL DEFAULT '',
  tls_verify INTEGER NOT NULL DEFAULT 0,
  last_poll_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS peers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  router_id INTEGER NOT NULL,
  iface TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  public_key TEXT NOT NULL,
  allowed_address TEXT NOT NULL DEFAULT '',
  routeros_id TEXT NOT NULL DEFAULT '',
  selected INTEGER NOT NULL DEFAULT 1,
  disabled INTEGER NOT NULL DEFAULT 0,
  endpoint TEXT NOT NULL DEFAULT '',
  handshake_age_sec INTEGER NOT NULL DEFAULT 0,
  last_seen_unix INTEGER NOT NULL DEFAULT 0,
  UNIQUE (router_id, public_key)
);

CREATE TABLE IF NOT EXISTS usage_samples (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  peer_id INTEGER NOT NULL,
  ts_unix INTEGER NOT NULL,
  rx_delta INTEGER NOT NULL,
  tx_delta INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_samples_peer_ts
  ON usage_samples (peer_id, ts_unix);

CREATE TABLE IF NOT EXISTS usage_daily (
  peer_id INTEGER NOT NULL,
  day TEXT NOT NULL,
  rx INTEGER NOT NULL DEFAULT 0,
  tx INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (peer_id, day)
);

CREATE TABLE IF NOT EXISTS usage_monthly (
  peer_id INTEGER NOT NULL,
  cycle_start TEXT NOT NULL,
  rx INTEGER NOT NULL DEFAULT 0,
  tx INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (peer_id, cycle_start)
);

CREATE TABLE IF NOT EXISTS quotas (
  peer_id INTEGER PRIMARY KEY,
  monthly_limit_bytes INTEGER NOT NULL DEFAULT 0,
  valid_from_unix INTEGER NOT NULL DEFAULT 0,
  valid_until_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS actions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  peer_id INTEGER NOT NULL,
  ts_unix INTEGER NOT NULL,
  kind TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_actions_peer_ts
  ON actions (peer_id, ts_unix DESC);

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}
