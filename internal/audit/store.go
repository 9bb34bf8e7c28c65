package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one persisted audit row.
type Record struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Language  string    `json:"language"`
	CodeHash  string    `json:"code_hash"`
	CodeBytes int       `json:"code_bytes"`
}

// SQLiteSink persists audit records to a local SQLite database and is the
// durable alternative to LogSink.
type SQLiteSink struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL,
	code_hash  TEXT NOT NULL,
	code_bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_session_id ON audit_events(session_id);
`

// dsnWithPragmas applies WAL and busy-timeout pragmas per connection so
// bursts of concurrent executions do not trip SQLITE_BUSY.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running audit migrations: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) LogPreExecution(ctx context.Context, code, language string) (string, error) {
	codeHash := HashCode(code)
	err := retryOnBusy(func() error {
		_, e := s.db.ExecContext(ctx,
			`INSERT INTO audit_events (timestamp, language, code_hash, code_bytes)
			 VALUES (?, ?, ?, ?)`,
			time.Now().UTC(), language, codeHash, len(code),
		)
		return e
	})
	if err != nil {
		return codeHash, fmt.Errorf("inserting audit event: %w", err)
	}
	return codeHash, nil
}

// RecentEvents returns the newest limit audit rows, for inspection tooling.
func (s *SQLiteSink) RecentEvents(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, session_id, user_id, language, code_hash, code_bytes
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.SessionID, &r.UserID, &r.Language, &r.CodeHash, &r.CodeBytes); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// isBusyLock reports whether err indicates SQLITE_BUSY, including wrapped
// errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}
