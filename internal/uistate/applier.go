package uistate

import (
	"slices"
	"sync"

	"github.com/multi-agent/transcript-sync/internal/merge"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/registry"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// Applier applies actions to the authoritative state, in order, under one lock.
//
// 写时复制: 每次修改都生成新的 Messages / Permissions 切片, 已发布的切片和
// 其中的 Message 永不原地修改, 因此 Context() 返回的快照可无锁读取。
type Applier struct {
	mu       sync.RWMutex
	state    State
	version  uint64
	registry *registry.Registry
	listener Listener
}

// NewApplier creates an Applier. nil registry/listener get defaults.
func NewApplier(reg *registry.Registry, listener Listener) *Applier {
	if reg == nil {
		reg = registry.New()
	}
	if listener == nil {
		listener = NopListener{}
	}
	return &Applier{
		registry: reg,
		listener: listener,
		state:    State{Status: model.IdleStatus()},
	}
}

type notification func(Listener)

// Apply applies actions in order and notifies the listener once.
func (a *Applier) Apply(actions ...model.Action) {
	if len(actions) == 0 {
		return
	}
	a.mu.Lock()
	var notes []notification
	for _, action := range actions {
		if n := a.applyLocked(action); n != nil {
			notes = append(notes, n)
		}
	}
	a.version++
	version := a.version
	a.mu.Unlock()

	for _, n := range notes {
		n(a.listener)
	}
	a.listener.StateChanged(version)
}

func (a *Applier) applyLocked(action model.Action) notification {
	s := &a.state
	switch act := action.(type) {
	case model.AddMessage:
		idx := indexOf(s.Messages, act.Message.ID)
		if idx >= 0 {
			s.Messages = replaceAt(s.Messages, idx, merge.Messages(s.Messages[idx], act.Message))
		} else {
			s.Messages = append(slices.Clip(s.Messages), act.Message.Clone())
		}

	case model.UpdateMessage:
		idx := indexOf(s.Messages, act.ID)
		if idx < 0 || act.Update == nil {
			return nil
		}
		s.Messages = replaceAt(s.Messages, idx, act.Update(s.Messages[idx].Clone()))

	case model.RemoveMessage:
		idx := indexOf(s.Messages, act.ID)
		if idx < 0 {
			return nil
		}
		s.Messages = slices.Delete(slices.Clone(s.Messages), idx, idx+1)

	case model.ReplaceOptimisticID:
		optIdx := indexOf(s.Messages, act.OptimisticID)
		if optIdx < 0 {
			return nil
		}
		if realIdx := indexOf(s.Messages, act.RealID); realIdx >= 0 {
			refreshed := merge.ApplyInfo(s.Messages[realIdx], act.Info)
			if refreshed.Text == "" && len(refreshed.ContentParts) == 0 {
				refreshed.Text = s.Messages[optIdx].Text
			}
			next := replaceAt(s.Messages, realIdx, refreshed)
			s.Messages = slices.Delete(next, optIdx, optIdx+1)
			return nil
		}
		renamed := s.Messages[optIdx].Clone()
		renamed.ID = act.RealID
		s.Messages = replaceAt(s.Messages, optIdx, merge.ApplyInfo(renamed, act.Info))

	case model.SetRunning:
		s.Running = act.Running

	case model.SetSessionStatus:
		s.Status = act.Status.Normalize()

	case model.SetError:
		s.Error = act.Message

	case model.AddPermission:
		perm := act.Permission
		if idx := slices.IndexFunc(s.Permissions, func(p model.PermissionRequest) bool { return p.ID == perm.ID }); idx >= 0 {
			perm.IsResponding = s.Permissions[idx].IsResponding
			next := slices.Clone(s.Permissions)
			next[idx] = perm
			s.Permissions = next
			return nil
		}
		s.Permissions = append(slices.Clip(s.Permissions), perm)

	case model.RemovePermission:
		idx := slices.IndexFunc(s.Permissions, func(p model.PermissionRequest) bool { return p.ID == act.ID })
		if idx < 0 {
			return nil
		}
		s.Permissions = slices.Delete(slices.Clone(s.Permissions), idx, idx+1)

	case model.NotifySessionCreated:
		info := act.Session
		return func(l Listener) { l.SessionCreated(info) }

	case model.NotifySessionUpdated:
		info := act.Session
		return func(l Listener) { l.SessionUpdated(info) }

	case model.UpdateSessionActivity:
		cur := a.registry.Status(act.SessionID)
		switch {
		case act.Active && !cur.Working():
			a.registry.SetStatus(act.SessionID, model.BusyStatus())
		case !act.Active && cur.Working():
			a.registry.SetStatus(act.SessionID, model.IdleStatus())
		}
		id, active := act.SessionID, act.Active
		return func(l Listener) { l.SessionActivity(id, active) }

	default:
		logger.Warn("applier: unknown action", logger.FieldAction, action.Kind())
	}
	return nil
}

// setPermissionResponding flips the client-only isResponding flag.
// 返回该权限请求的副本; 不存在时 ok=false。
func (a *Applier) setPermissionResponding(id string, responding bool) (model.PermissionRequest, bool) {
	a.mu.Lock()
	idx := slices.IndexFunc(a.state.Permissions, func(p model.PermissionRequest) bool { return p.ID == id })
	if idx < 0 {
		a.mu.Unlock()
		return model.PermissionRequest{}, false
	}
	next := slices.Clone(a.state.Permissions)
	next[idx].IsResponding = responding
	a.state.Permissions = next
	perm := next[idx]
	a.version++
	version := a.version
	a.mu.Unlock()

	a.listener.StateChanged(version)
	return perm, true
}

// reset switches the active session. 权限队列跨会话保留, 不清空。
func (a *Applier) reset(projectID, sessionID string) {
	a.mu.Lock()
	if projectID != "" {
		a.state.ProjectID = projectID
	}
	a.state.SessionID = sessionID
	a.state.Messages = nil
	a.state.Running = false
	a.state.Status = model.IdleStatus()
	a.state.Error = ""
	a.version++
	version := a.version
	a.mu.Unlock()

	a.listener.StateChanged(version)
}

// Context returns the immutable handler context of the current state.
func (a *Applier) Context() model.HandlerContext {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return model.HandlerContext{
		ProjectID: a.state.ProjectID,
		SessionID: a.state.SessionID,
		Messages:  slices.Clip(a.state.Messages),
	}
}

// SessionID returns the active session id.
func (a *Applier) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.SessionID
}

// Snapshot returns a deep copy of the state filtered to the active session.
func (a *Applier) Snapshot() Snapshot {
	a.mu.RLock()
	s := a.state
	version := a.version
	a.mu.RUnlock()

	out := Snapshot{
		Version:     version,
		ProjectID:   s.ProjectID,
		SessionID:   s.SessionID,
		Messages:    make([]model.Message, 0, len(s.Messages)),
		Running:     s.Running,
		Status:      s.Status,
		Error:       s.Error,
		Permissions: slices.Clone(s.Permissions),
	}
	if out.Permissions == nil {
		out.Permissions = []model.PermissionRequest{}
	}
	if s.Status.Retry != nil {
		retry := *s.Status.Retry
		out.Status.Retry = &retry
	}
	for _, m := range s.Messages {
		if m.SessionID == s.SessionID {
			out.Messages = append(out.Messages, m.Clone())
		}
	}
	out.ActiveSessions = a.registry.Busy()
	return out
}

func indexOf(msgs []model.Message, id string) int {
	return slices.IndexFunc(msgs, func(m model.Message) bool { return m.ID == id })
}

// replaceAt returns a copy of msgs with index i replaced.
func replaceAt(msgs []model.Message, i int, m model.Message) []model.Message {
	next := slices.Clone(msgs)
	next[i] = m
	return next
}
