package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	session_id    TEXT PRIMARY KEY,
	messages      TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at ON transcripts(updated_at);
CREATE TABLE IF NOT EXISTS ui_preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteTranscriptStore is the single-file transcript cache used when no
// PostgreSQL is configured. 接口与 TranscriptStore 一致。
type SQLiteTranscriptStore struct {
	db *sql.DB
}

// OpenSQLiteTranscriptStore opens (or creates) the cache database at path.
func OpenSQLiteTranscriptStore(path string) (*SQLiteTranscriptStore, error) {
	const op = "SQLiteTranscriptStore.Open"
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(err, op, "create data dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "open database")
	}
	// modernc sqlite 单写者
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, op, "ping database")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, op, "initialize schema")
	}
	return &SQLiteTranscriptStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteTranscriptStore) Close() error { return s.db.Close() }

// Save upserts the snapshot of sessionID.
func (s *SQLiteTranscriptStore) Save(ctx context.Context, sessionID string, messages []model.Message) error {
	const op = "SQLiteTranscriptStore.Save"
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "empty session id")
	}
	data, err := marshalMessages(messages)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal messages")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (session_id, messages, message_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages = excluded.messages,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at
	`, sessionID, string(data), len(messages), time.Now().UnixMilli())
	if err != nil {
		return apperrors.Wrap(err, op, "upsert transcript")
	}
	return nil
}

// Load returns the cached snapshot; found=false when absent.
func (s *SQLiteTranscriptStore) Load(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	const op = "SQLiteTranscriptStore.Load"
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT messages FROM transcripts WHERE session_id = ?", sessionID).Scan(&raw)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(err, op, "query transcript")
	}
	msgs, err := unmarshalMessages([]byte(raw))
	if err != nil {
		return nil, false, apperrors.Wrap(err, op, "unmarshal transcript")
	}
	return msgs, true, nil
}

// Delete removes the cached snapshot of sessionID.
func (s *SQLiteTranscriptStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM transcripts WHERE session_id = ?", sessionID); err != nil {
		return apperrors.Wrap(err, "SQLiteTranscriptStore.Delete", "delete transcript")
	}
	return nil
}

// Recent lists cached transcripts, newest first.
func (s *SQLiteTranscriptStore) Recent(ctx context.Context, limit int) ([]TranscriptInfo, error) {
	const op = "SQLiteTranscriptStore.Recent"
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, message_count, updated_at
		FROM transcripts
		ORDER BY updated_at DESC
		LIMIT ?
	`, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "query transcripts")
	}
	defer rows.Close()

	var out []TranscriptInfo
	for rows.Next() {
		var (
			info      TranscriptInfo
			updatedMS int64
		)
		if err := rows.Scan(&info.SessionID, &info.MessageCount, &updatedMS); err != nil {
			return nil, apperrors.Wrap(err, op, "scan transcript")
		}
		info.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, op, "iterate transcripts")
	}
	return out, nil
}
