// Package uistate 持有转录的权威状态, 是所有 Action 的唯一落地点。
//
//   - Applier: 单一串行化点, 按顺序应用 Action, 切片写时复制
//   - Engine:  组合 Router + Applier + 后端客户端, 提供事件处理与用户命令
//   - PreferenceManager: 最近会话等 UI 偏好
package uistate

import (
	"github.com/multi-agent/transcript-sync/internal/model"
)

// State is the authoritative client state.
type State struct {
	ProjectID   string
	SessionID   string
	Messages    []model.Message
	Running     bool
	Status      model.SessionStatus
	Error       string
	Permissions []model.PermissionRequest
}

// Snapshot is the read-only view exposed to the rendering collaborator.
// Messages 已按当前会话过滤; Permissions 先进先出, 第一个为当前待处理项。
type Snapshot struct {
	Version        uint64                    `json:"version"`
	ProjectID      string                    `json:"projectId,omitempty"`
	SessionID      string                    `json:"sessionId"`
	Messages       []model.Message           `json:"messages"`
	Running        bool                      `json:"isRunning"`
	Status         model.SessionStatus       `json:"status"`
	Error          string                    `json:"error,omitempty"`
	Permissions    []model.PermissionRequest `json:"permissions"`
	ActiveSessions []string                  `json:"activeSessions,omitempty"`
}

// CurrentPermission returns the head of the permission queue.
func (s Snapshot) CurrentPermission() (model.PermissionRequest, bool) {
	if len(s.Permissions) == 0 {
		return model.PermissionRequest{}, false
	}
	return s.Permissions[0], true
}

// FindMessage returns the message with id from the snapshot.
func (s Snapshot) FindMessage(id string) (model.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

// Listener receives notifications forwarded by the Applier.
// 回调在 Applier 锁外调用, 可安全读取 Snapshot。
type Listener interface {
	SessionCreated(info model.SessionInfo)
	SessionUpdated(info model.SessionInfo)
	SessionActivity(sessionID string, active bool)
	StateChanged(version uint64)
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) SessionCreated(model.SessionInfo) {}
func (NopListener) SessionUpdated(model.SessionInfo) {}
func (NopListener) SessionActivity(string, bool)     {}
func (NopListener) StateChanged(uint64)              {}

// Listeners fans notifications out to every listener in order.
type Listeners []Listener

func (ls Listeners) SessionCreated(info model.SessionInfo) {
	for _, l := range ls {
		l.SessionCreated(info)
	}
}

func (ls Listeners) SessionUpdated(info model.SessionInfo) {
	for _, l := range ls {
		l.SessionUpdated(info)
	}
}

func (ls Listeners) SessionActivity(sessionID string, active bool) {
	for _, l := range ls {
		l.SessionActivity(sessionID, active)
	}
}

func (ls Listeners) StateChanged(version uint64) {
	for _, l := range ls {
		l.StateChanged(version)
	}
}
