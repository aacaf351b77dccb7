// Package store 持久化转录缓存与 UI 偏好 (PostgreSQL / SQLite)。
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
)

// TranscriptInfo summarizes one cached transcript.
type TranscriptInfo struct {
	SessionID    string    `json:"sessionId"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TranscriptStore caches per-session message snapshots in PostgreSQL.
// 每个会话一行, messages 为 JSONB; Save 覆盖写。
type TranscriptStore struct{ BaseStore }

func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{NewBaseStore(pool)}
}

// Save upserts the snapshot of sessionID.
func (s *TranscriptStore) Save(ctx context.Context, sessionID string, messages []model.Message) error {
	const op = "TranscriptStore.Save"
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "empty session id")
	}
	data, err := marshalMessages(messages)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal messages")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcripts (session_id, messages, message_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			messages = EXCLUDED.messages,
			message_count = EXCLUDED.message_count,
			updated_at = NOW()
	`, sessionID, data, len(messages))
	if err != nil {
		return apperrors.Wrap(err, op, "upsert transcript")
	}
	return nil
}

// Load returns the cached snapshot; found=false when absent.
func (s *TranscriptStore) Load(ctx context.Context, sessionID string) ([]model.Message, bool, error) {
	const op = "TranscriptStore.Load"
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT messages FROM transcripts WHERE session_id = $1", sessionID).Scan(&raw)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.Wrap(err, op, "query transcript")
	}
	msgs, err := unmarshalMessages(raw)
	if err != nil {
		return nil, false, apperrors.Wrap(err, op, "unmarshal transcript")
	}
	return msgs, true, nil
}

// Delete removes the cached snapshot of sessionID.
func (s *TranscriptStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := deleteByKey(ctx, s.pool, "transcripts", "session_id", sessionID); err != nil {
		return apperrors.Wrap(err, "TranscriptStore.Delete", "delete transcript")
	}
	return nil
}

// Recent lists cached transcripts, newest first.
func (s *TranscriptStore) Recent(ctx context.Context, limit int) ([]TranscriptInfo, error) {
	const op = "TranscriptStore.Recent"
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, message_count, updated_at
		FROM transcripts
		ORDER BY updated_at DESC
		LIMIT $1
	`, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "query transcripts")
	}
	defer rows.Close()

	var out []TranscriptInfo
	for rows.Next() {
		var info TranscriptInfo
		if err := rows.Scan(&info.SessionID, &info.MessageCount, &info.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(err, op, "scan transcript")
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, op, "iterate transcripts")
	}
	return out, nil
}

func marshalMessages(messages []model.Message) ([]byte, error) {
	if messages == nil {
		messages = []model.Message{}
	}
	return json.Marshal(messages)
}

func unmarshalMessages(raw []byte) ([]model.Message, error) {
	var msgs []model.Message
	if len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
