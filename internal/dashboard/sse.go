// sse.go — SSE 事件总线 + handler。
package dashboard

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// SSE 事件名。
const (
	EventState           = "state"
	EventSessionCreated  = "session.created"
	EventSessionUpdated  = "session.updated"
	EventSessionActivity = "session.activity"
	EventPing            = "ping"
)

const keepaliveInterval = 30 * time.Second

// EventBus 事件总线 (SSE 推送), 同时实现 uistate.Listener。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	seq         atomic.Uint64
	dropped     atomic.Uint64
}

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Publish 广播事件。订阅者缓冲满时丢弃 (state 事件可由下一次覆盖)。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 返回因订阅者过慢而丢弃的事件数。
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe 订阅, 返回订阅 id 与事件通道。
func (b *EventBus) Subscribe() (string, <-chan Event) {
	id := fmt.Sprintf("sse-%d", b.seq.Add(1))
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — sseHandler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Subscribers 返回当前订阅者数。
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SessionCreated implements uistate.Listener.
func (b *EventBus) SessionCreated(info model.SessionInfo) {
	b.Publish(Event{Type: EventSessionCreated, Data: info})
}

// SessionUpdated implements uistate.Listener.
func (b *EventBus) SessionUpdated(info model.SessionInfo) {
	b.Publish(Event{Type: EventSessionUpdated, Data: info})
}

// SessionActivity implements uistate.Listener.
func (b *EventBus) SessionActivity(sessionID string, active bool) {
	b.Publish(Event{Type: EventSessionActivity, Data: gin.H{"sessionId": sessionID, "active": active}})
}

// StateChanged implements uistate.Listener. 仅携带版本号, handler 发送时取最新快照。
func (b *EventBus) StateChanged(version uint64) {
	b.Publish(Event{Type: EventState, Data: version})
}

// sseHandler Gin SSE handler。连接时先推送一次完整快照。
func (s *Server) sseHandler(c *gin.Context) {
	clientID, ch := s.bus.Subscribe()
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", "client_id", clientID)
	}()
	logger.Info("dashboard: SSE client connected", "client_id", clientID)

	var lastVersion uint64
	sendState := func() {
		snap := s.engine.Snapshot()
		if snap.Version != 0 && snap.Version == lastVersion {
			return
		}
		lastVersion = snap.Version
		c.SSEvent(EventState, snap)
	}
	sendState()
	c.Writer.Flush()

	// 复用 timer 避免每次循环创建新定时器
	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()
	resetKeepalive := func() {
		if !keepalive.Stop() {
			select {
			case <-keepalive.C:
			default:
			}
		}
		keepalive.Reset(keepaliveInterval)
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			if evt.Type == EventState {
				sendState()
			} else {
				c.SSEvent(evt.Type, evt.Data)
			}
			resetKeepalive()
			return true
		case <-keepalive.C:
			c.SSEvent(EventPing, "keepalive")
			keepalive.Reset(keepaliveInterval)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
