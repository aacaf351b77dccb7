package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
)

// UIPreferenceStore keeps UI preferences (last session, last project) as
// raw JSON values in PostgreSQL.
type UIPreferenceStore struct{ BaseStore }

func NewUIPreferenceStore(pool *pgxpool.Pool) *UIPreferenceStore {
	return &UIPreferenceStore{NewBaseStore(pool)}
}

// Get returns the raw value of key; found=false when absent.
func (s *UIPreferenceStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var val json.RawMessage
	err := s.pool.QueryRow(ctx, "SELECT value FROM ui_preferences WHERE key = $1", key).Scan(&val)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(err, "UIPreferenceStore.Get", "query preference")
	}
	return val, true, nil
}

// Set upserts key with a JSON value.
func (s *UIPreferenceStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "UIPreferenceStore.Set", "value of %q is not JSON", key)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ui_preferences (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, []byte(value))
	if err != nil {
		return apperrors.Wrap(err, "UIPreferenceStore.Set", "upsert preference")
	}
	return nil
}

// Delete removes key. 不存在时不报错。
func (s *UIPreferenceStore) Delete(ctx context.Context, key string) error {
	if _, err := deleteByKey(ctx, s.pool, "ui_preferences", "key", key); err != nil {
		return apperrors.Wrap(err, "UIPreferenceStore.Delete", "delete preference")
	}
	return nil
}

// GetAll returns every stored preference.
func (s *UIPreferenceStore) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM ui_preferences")
	if err != nil {
		return nil, apperrors.Wrap(err, "UIPreferenceStore.GetAll", "query preferences")
	}
	type kv struct {
		Key   string
		Value json.RawMessage
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[kv])
	if err != nil {
		return nil, apperrors.Wrap(err, "UIPreferenceStore.GetAll", "scan preferences")
	}
	out := make(map[string]json.RawMessage, len(items))
	for _, it := range items {
		out[it.Key] = it.Value
	}
	return out, nil
}

// SQLitePreferenceStore is the SQLite twin of UIPreferenceStore; it shares
// the transcript cache database file.
type SQLitePreferenceStore struct{ db *sql.DB }

// Preferences returns the preference table of the same database.
func (s *SQLiteTranscriptStore) Preferences() *SQLitePreferenceStore {
	return &SQLitePreferenceStore{db: s.db}
}

// Get returns the raw value of key; found=false when absent.
func (s *SQLitePreferenceStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM ui_preferences WHERE key = ?", key).Scan(&val)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(err, "SQLitePreferenceStore.Get", "query preference")
	}
	return json.RawMessage(val), true, nil
}

// Set upserts key with a JSON value.
func (s *SQLitePreferenceStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "SQLitePreferenceStore.Set", "value of %q is not JSON", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ui_preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(value))
	if err != nil {
		return apperrors.Wrap(err, "SQLitePreferenceStore.Set", "upsert preference")
	}
	return nil
}

// Delete removes key.
func (s *SQLitePreferenceStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ui_preferences WHERE key = ?", key); err != nil {
		return apperrors.Wrap(err, "SQLitePreferenceStore.Delete", "delete preference")
	}
	return nil
}

// GetAll returns every stored preference.
func (s *SQLitePreferenceStore) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM ui_preferences")
	if err != nil {
		return nil, apperrors.Wrap(err, "SQLitePreferenceStore.GetAll", "query preferences")
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, apperrors.Wrap(err, "SQLitePreferenceStore.GetAll", "scan preference")
		}
		out[key] = json.RawMessage(val)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "SQLitePreferenceStore.GetAll", "iterate preferences")
	}
	return out, nil
}
