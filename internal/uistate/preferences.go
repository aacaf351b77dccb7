// preferences.go — UI 偏好管理 (最近会话等)。
package uistate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
)

// 偏好键。
const (
	PrefLastSessionID = "lastSessionID"
	PrefLastProjectID = "lastProjectID"
)

// PreferenceStore persists raw JSON preference values.
// 实现: store.UIPreferenceStore (PG) / store.SQLitePreferenceStore。
type PreferenceStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	GetAll(ctx context.Context) (map[string]json.RawMessage, error)
}

// PreferenceManager handles UI preference logic.
// store 为 nil 时降级为进程内存储。
type PreferenceManager struct {
	store PreferenceStore

	mu     sync.RWMutex
	memory map[string]json.RawMessage
}

// NewPreferenceManager 创建偏好管理器。
func NewPreferenceManager(s PreferenceStore) *PreferenceManager {
	return &PreferenceManager{store: s, memory: make(map[string]json.RawMessage)}
}

func (m *PreferenceManager) getRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if m.store != nil {
		return m.store.Get(ctx, key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.memory[key]
	return v, ok, nil
}

// Get decodes the value of key into a generic JSON value; nil when absent.
func (m *PreferenceManager) Get(ctx context.Context, key string) (any, error) {
	raw, ok, err := m.getRaw(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperrors.Wrapf(err, "PreferenceManager.Get", "decode %q", key)
	}
	return v, nil
}

// Set stores value as JSON.
func (m *PreferenceManager) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrapf(err, "PreferenceManager.Set", "encode %q", key)
	}
	if m.store != nil {
		return m.store.Set(ctx, key, raw)
	}
	m.mu.Lock()
	m.memory[key] = raw
	m.mu.Unlock()
	return nil
}

// GetAll returns every preference decoded; 无法解析的条目被跳过。
func (m *PreferenceManager) GetAll(ctx context.Context) (map[string]any, error) {
	var all map[string]json.RawMessage
	if m.store != nil {
		var err error
		if all, err = m.store.GetAll(ctx); err != nil {
			return nil, err
		}
	} else {
		m.mu.RLock()
		all = make(map[string]json.RawMessage, len(m.memory))
		for k, v := range m.memory {
			all[k] = v
		}
		m.mu.RUnlock()
	}
	out := make(map[string]any, len(all))
	for k, raw := range all {
		var v any
		if json.Unmarshal(raw, &v) == nil {
			out[k] = v
		}
	}
	return out, nil
}

// LastSessionID returns the last active session, "" when unknown.
func (m *PreferenceManager) LastSessionID(ctx context.Context) (string, error) {
	v, err := m.Get(ctx, PrefLastSessionID)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}

// SetLastSession remembers the active project and session.
func (m *PreferenceManager) SetLastSession(ctx context.Context, projectID, sessionID string) error {
	if projectID != "" {
		if err := m.Set(ctx, PrefLastProjectID, projectID); err != nil {
			return err
		}
	}
	return m.Set(ctx, PrefLastSessionID, sessionID)
}
