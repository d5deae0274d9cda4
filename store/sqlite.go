// Package store persists subscriber configurations, audit events and the
// revision watermark in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed persistence layer. It implements
// push.ConfigStore, push.AuditSink and push.RevisionSource.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
}

// Open creates a store at the given path, applying the schema.
func Open(path string, busyTimeoutMS int) (*Store, error) {
	isMemoryDB := strings.Contains(path, ":memory:")

	// Write connection (1 connection)
	writeDSN := path
	if !isMemoryDB {
		writeDSN = appendDSNParams(writeDSN,
			fmt.Sprintf("_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", busyTimeoutMS))
	}

	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	// Read connection pool
	readDB := writeDB
	if !isMemoryDB {
		readDSN := appendDSNParams(path,
			fmt.Sprintf("_journal_mode=WAL&_busy_timeout=%d", busyTimeoutMS))
		readDB, err = sql.Open("sqlite3", readDSN)
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to open read database: %w", err)
		}
		readDB.SetMaxOpenConns(4)
		readDB.SetMaxIdleConns(4)
		readDB.SetConnMaxLifetime(0)
	}

	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		path:    path,
	}

	if err := s.applySchema(); err != nil {
		s.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Opened push store")
	return s, nil
}

func appendDSNParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func (s *Store) applySchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id TEXT PRIMARY KEY,
			alias TEXT NOT NULL,
			url TEXT NOT NULL,
			notification_period_sec INTEGER NOT NULL,
			connect_timeout_ms INTEGER NOT NULL,
			media_type TEXT NOT NULL,
			forced_disabled INTEGER NOT NULL DEFAULT 0,
			classes BLOB NOT NULL,
			expire_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS push_notification_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			configuration_id TEXT NOT NULL,
			alias TEXT NOT NULL,
			revision_from INTEGER NOT NULL,
			revision_to INTEGER NOT NULL,
			message TEXT,
			error TEXT,
			stack TEXT,
			statistic BLOB,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_configuration
			ON push_notification_events(configuration_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS revisions (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			max_exportable INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO revisions (id, max_exportable) VALUES (1, 0)`,
	}

	for _, stmt := range schema {
		if _, err := s.writeDB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var firstErr error
	if s.readDB != s.writeDB {
		if err := s.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.writeDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
