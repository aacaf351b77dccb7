// Package registry 跟踪所有 (子) 会话的状态与父子关系。
//
// Registry 在应用启动时创建并显式注入 Router / Applier, 生命周期随应用;
// 不存在包级全局状态。所有方法并发安全。
package registry

import (
	"sort"
	"sync"

	"github.com/multi-agent/transcript-sync/internal/model"
)

// Registry is an injectable per-session status and parent-link store.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]model.SessionStatus
	parents  map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		statuses: make(map[string]model.SessionStatus),
		parents:  make(map[string]string),
	}
}

// SetStatus records the status of sessionID. Empty ids are ignored.
func (r *Registry) SetStatus(sessionID string, status model.SessionStatus) {
	if sessionID == "" {
		return
	}
	status = status.Normalize()
	if status.Retry != nil {
		retry := *status.Retry
		status.Retry = &retry
	}
	r.mu.Lock()
	r.statuses[sessionID] = status
	r.mu.Unlock()
}

// Status returns the last known status, idle when unknown.
func (r *Registry) Status(sessionID string) model.SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.statuses[sessionID]; ok {
		return s
	}
	return model.IdleStatus()
}

// Busy returns the sorted ids of sessions currently busy or retrying.
func (r *Registry) Busy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.statuses {
		if s.Working() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SetParent links child to parent. Self links and empty ids are ignored.
func (r *Registry) SetParent(child, parent string) {
	if child == "" || parent == "" || child == parent {
		return
	}
	r.mu.Lock()
	r.parents[child] = parent
	r.mu.Unlock()
}

// Parent returns the parent of sessionID.
func (r *Registry) Parent(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parents[sessionID]
	return p, ok
}

// Children returns the sorted direct children of sessionID.
func (r *Registry) Children(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for child, parent := range r.parents {
		if parent == sessionID {
			out = append(out, child)
		}
	}
	sort.Strings(out)
	return out
}

// IsDescendant reports whether child is ancestor itself or nested below it.
func (r *Registry) IsDescendant(child, ancestor string) bool {
	if child == "" || ancestor == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for cur := child; cur != ""; cur = r.parents[cur] {
		if cur == ancestor {
			return true
		}
		if _, loop := seen[cur]; loop {
			return false
		}
		seen[cur] = struct{}{}
	}
	return false
}

// Forget drops all knowledge of sessionID, including links from its children.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, sessionID)
	delete(r.parents, sessionID)
	for child, parent := range r.parents {
		if parent == sessionID {
			delete(r.parents, child)
		}
	}
}

// Snapshot returns a copy of all known statuses.
func (r *Registry) Snapshot() map[string]model.SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.SessionStatus, len(r.statuses))
	for id, s := range r.statuses {
		if s.Retry != nil {
			retry := *s.Retry
			s.Retry = &retry
		}
		out[id] = s
	}
	return out
}
