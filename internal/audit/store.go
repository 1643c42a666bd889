package audit

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loopworks/hookgate/internal/config"
	"github.com/loopworks/hookgate/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// SessionInfo summarizes one session's presence in the store
type SessionInfo struct {
	SessionID   string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Invocations int64
}

// Stats aggregates the store contents
type Stats struct {
	Sessions    int64
	Invocations int64
	Synthesized int64
	ByAction    map[string]int64
}

// Store is a SQLite-backed audit sink
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore opens (and if needed creates) the audit database
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".hookgate", "audit", "audit.db")
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().
		Str("path", dbPath).
		Msg("Opened audit store")

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		invocations INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		tool_name TEXT,
		action TEXT NOT NULL,
		rule TEXT,
		failure TEXT,
		synthesized INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		event TEXT,
		decision TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(session_id, tool_name, event_kind, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores one dispatch outcome. Implements Sink.
func (s *Store) Record(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.stamp()
	now := entry.CreatedAt.Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, first_seen_at, last_seen_at, invocations)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET
		   last_seen_at = excluded.last_seen_at,
		   invocations = invocations + 1`,
		entry.SessionID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO invocations (id, session_id, event_kind, tool_name, action, rule, failure, synthesized, message, elapsed_ms, event, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SessionID,
		entry.EventKind,
		entry.ToolName,
		entry.Action,
		entry.Rule,
		entry.Failure,
		boolToInt(entry.Synthesized),
		entry.Message,
		entry.ElapsedMS,
		string(entry.Event),
		string(entry.Decision),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to store invocation: %w", err)
	}

	return tx.Commit()
}

// ListSessions returns all sessions ordered by last_seen_at
func (s *Store) ListSessions() ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, first_seen_at, last_seen_at, invocations
		 FROM sessions ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*SessionInfo
	for rows.Next() {
		var info SessionInfo
		var firstSeen, lastSeen int64

		if err := rows.Scan(&info.SessionID, &firstSeen, &lastSeen, &info.Invocations); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		info.FirstSeenAt = time.Unix(firstSeen, 0)
		info.LastSeenAt = time.Unix(lastSeen, 0)
		sessions = append(sessions, &info)
	}

	return sessions, rows.Err()
}

// SessionEntries retrieves the most recent entries for a session in
// chronological order
func (s *Store) SessionEntries(sessionID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, event_kind, tool_name, action, rule, failure, synthesized, message, elapsed_ms, event, decision, created_at
		 FROM invocations
		 WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// RecentEntries retrieves the most recent entries across all sessions,
// newest first
func (s *Store) RecentEntries(limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, event_kind, tool_name, action, rule, failure, synthesized, message, elapsed_ms, event, decision, created_at
		 FROM invocations
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// RecentActions returns the actions recorded for a session and tool under one
// event kind, newest first. The runner uses this to resume a retry count.
func (s *Store) RecentActions(sessionID, toolName, eventKind string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT action FROM invocations
		 WHERE session_id = ? AND tool_name = ? AND event_kind = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		sessionID, toolName, eventKind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}

	return actions, rows.Err()
}

// Stats aggregates totals across the store
func (s *Store) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{ByAction: make(map[string]int64)}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&stats.Sessions); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM invocations").Scan(&stats.Invocations); err != nil {
		return nil, fmt.Errorf("failed to count invocations: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM invocations WHERE synthesized = 1").Scan(&stats.Synthesized); err != nil {
		return nil, fmt.Errorf("failed to count synthesized: %w", err)
	}

	rows, err := s.db.Query("SELECT action, COUNT(*) FROM invocations GROUP BY action")
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.ByAction[action] = count
	}

	return stats, rows.Err()
}

// CleanupOlderThan removes sessions last seen before the retention window
func (s *Store) CleanupOlderThan(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Unix()

	_, err := s.db.Exec("DELETE FROM invocations WHERE session_id IN (SELECT session_id FROM sessions WHERE last_seen_at < ?)", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old invocations: %w", err)
	}

	result, err := s.db.Exec("DELETE FROM sessions WHERE last_seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("retention", retention.String()).
			Msg("Cleaned up old sessions")
	}

	return deleted, nil
}

// TrimSession removes the oldest invocations when a session exceeds the
// per-session cap
func (s *Store) TrimSession(sessionID string, maxEntries int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM invocations WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invocations: %w", err)
	}

	if count <= maxEntries {
		return 0, nil
	}

	toDelete := count - maxEntries
	result, err := s.db.Exec(
		`DELETE FROM invocations WHERE id IN (
			SELECT id FROM invocations WHERE session_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?
		)`,
		sessionID, toDelete,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to trim session: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		logger.Debug().
			Int64("deleted", deleted).
			Str("session", sessionID).
			Msg("Trimmed session invocations")
	}

	return deleted, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// MaybeCleanup runs retention cleanup and session trimming with the
// configured probability, so the cost is amortized across invocations
// instead of needing a scheduler. Runs after the decision is emitted; must
// stay synchronous because the dispatch process exits right after.
func MaybeCleanup(store *Store, settings config.AuditSettings, sessionID string) {
	if store == nil || rand.Float64() > settings.CleanupProbability {
		return
	}

	retention := time.Duration(settings.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	if _, err := store.CleanupOlderThan(retention); err != nil {
		logger.Debug().Err(err).Msg("Failed to clean up old sessions")
	}

	if sessionID != "" && settings.MaxPerSession > 0 {
		if _, err := store.TrimSession(sessionID, settings.MaxPerSession); err != nil {
			logger.Debug().Err(err).Msg("Failed to trim session")
		}
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry

	for rows.Next() {
		var entry Entry
		var createdAt, synthesized int64
		var toolName, rule, failure, message, event, decision sql.NullString

		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.EventKind, &toolName, &entry.Action, &rule, &failure, &synthesized, &message, &entry.ElapsedMS, &event, &decision, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		entry.ToolName = toolName.String
		entry.Rule = rule.String
		entry.Failure = failure.String
		entry.Synthesized = synthesized != 0
		entry.Message = message.String
		entry.CreatedAt = time.Unix(createdAt, 0)
		if event.Valid && event.String != "" {
			entry.Event = []byte(event.String)
		}
		if decision.Valid && decision.String != "" {
			entry.Decision = []byte(decision.String)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
