// Package sqlite persists sessions, messages and reports in a single SQLite
// file. It suits single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

// Store implements domain.SessionStore, domain.MessageStore and
// domain.JournalStore.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the database at path. The parent directory
// is created if needed.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; avoids SQLITE_BUSY under concurrent sessions
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		intensity TEXT NOT NULL,
		state TEXT NOT NULL,
		turn_count INTEGER NOT NULL,
		finish_eligible INTEGER NOT NULL,
		pending_reply INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		result TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		suggestions TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		intensity TEXT NOT NULL,
		turns INTEGER NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_user ON journal(user_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─────────────────────────────────────────
// SessionStore
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO sessions (id, user_id, mode, intensity, state, turn_count, finish_eligible,
		pending_reply, message_count, result, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		session.ID, session.UserID, session.Mode, session.Intensity, session.State,
		session.TurnCount, session.FinishEligible, session.PendingReply, session.MessageCount,
		result, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite CreateSession: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	result, err := encodeResult(session.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE sessions SET state = ?, turn_count = ?, finish_eligible = ?, pending_reply = ?,
		message_count = ?, result = ?, updated_at = ?
	WHERE id = ?`,
		session.State, session.TurnCount, session.FinishEligible, session.PendingReply,
		session.MessageCount, result, session.UpdatedAt.UnixNano(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite UpdateSession: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}
	return nil
}

const sessionColumns = `id, user_id, mode, intensity, state, turn_count, finish_eligible,
	pending_reply, message_count, result, created_at, updated_at`

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite GetSession: %w", err)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite DeleteSession: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListSessionsByUser: %w", err)
	}
	defer rows.Close()

	out := []*domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite ListSessionsByUser scan: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*domain.Session, error) {
	var (
		sess             domain.Session
		result           sql.NullString
		created, updated int64
		eligible, pend   bool
	)
	err := sc.Scan(
		&sess.ID, &sess.UserID, &sess.Mode, &sess.Intensity, &sess.State,
		&sess.TurnCount, &eligible, &pend, &sess.MessageCount,
		&result, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	sess.FinishEligible = eligible
	sess.PendingReply = pend
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()

	if result.Valid && result.String != "" {
		var res domain.DiscoveryResult
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		sess.Result = &res
	}
	return &sess, nil
}

func encodeResult(res *domain.DiscoveryResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// ─────────────────────────────────────────
// MessageStore
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	suggestions, err := json.Marshal(nonNil(msg.Suggestions))
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO messages (id, session_id, seq, role, content, suggestions, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Seq, msg.Role, msg.Content, string(suggestions), msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, seq, role, content, suggestions, created_at
	FROM messages WHERE session_id = ? ORDER BY seq, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite GetMessagesBySession: %w", err)
	}
	defer rows.Close()

	out := []*domain.Message{}
	for rows.Next() {
		var (
			m           domain.Message
			suggestions string
			created     int64
		)
		if err := rows.Scan(&m.ID, &m.Seq, &m.Role, &m.Content, &suggestions, &created); err != nil {
			return nil, fmt.Errorf("sqlite GetMessagesBySession scan: %w", err)
		}
		m.SessionID = sessionID
		m.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(suggestions), &m.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
		if len(m.Suggestions) == 0 {
			m.Suggestions = nil
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMessagesBySession(ctx context.Context, sessionID domain.SessionID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite DeleteMessagesBySession: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────
// JournalStore
// ─────────────────────────────────────────

func (s *Store) AppendJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO journal (id, session_id, user_id, mode, intensity, turns, result, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.UserID, entry.Mode, entry.Intensity, entry.Turns,
		string(result), entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite AppendJournalEntry: %w", err)
	}
	return nil
}

func (s *Store) ListJournalEntriesByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, session_id, mode, intensity, turns, result, created_at
	FROM journal WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite ListJournalEntriesByUser: %w", err)
	}
	defer rows.Close()

	out := []*domain.JournalEntry{}
	for rows.Next() {
		var (
			e       domain.JournalEntry
			result  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Mode, &e.Intensity, &e.Turns, &result, &created); err != nil {
			return nil, fmt.Errorf("sqlite ListJournalEntriesByUser scan: %w", err)
		}
		e.UserID = userID
		e.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
