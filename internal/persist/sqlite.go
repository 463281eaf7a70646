package persist

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	// Registers the pure Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

const sqliteTimeout = 5 * time.Second

// SQLiteStore persists user snapshots as rows of a single key/value table.
type SQLiteStore struct {
	db  *sql.DB
	log pslog.Logger
	now func() time.Time
}

// OpenSQLiteStore opens or creates the database at path and its schema.
func OpenSQLiteStore(path string, logger pslog.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps modernc from returning SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		logger = logger.With("sqlite_path", path)
	}
	return &SQLiteStore{db: db, log: logger, now: time.Now}, nil
}

// Load reads a user snapshot. A missing row is not an error.
func (s *SQLiteStore) Load(userID schema.UserID) (UserSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", stateKey(userID)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		s.debug("state load miss", "user", userID)
		return UserSnapshot{}, false, nil
	}
	if err != nil {
		s.warn("state load failed", "user", userID, "err", err)
		return UserSnapshot{}, false, err
	}
	snapshot, err := decodeSnapshot([]byte(value))
	if err != nil {
		s.warn("state load failed", "user", userID, "err", err)
		return UserSnapshot{}, false, err
	}
	s.debug("state load ok", "user", userID, "tabs", len(snapshot.Tabs))
	return snapshot, true, nil
}

// Save upserts a user snapshot.
func (s *SQLiteStore) Save(userID schema.UserID, snapshot UserSnapshot) error {
	data, err := encodeSnapshot(snapshot, false)
	if err != nil {
		s.warn("state save failed", "user", userID, "err", err)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		stateKey(userID), string(data), s.now().UTC(),
	)
	if err != nil {
		s.warn("state save failed", "user", userID, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "user", userID, "tabs", len(snapshot.Tabs))
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *SQLiteStore) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func stateKey(userID schema.UserID) string {
	return "tabs/" + userKey(userID)
}
