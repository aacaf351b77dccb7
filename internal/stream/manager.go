package stream

import (
	"context"
	"sync"
	"time"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/logger"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

// DefaultReconnectDelay is the fixed delay between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// State is the subscription lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sink receives events synchronously, one at a time, in arrival order.
type Sink func(ev model.RawEvent)

// Manager owns one subscription at a time.
//
// 每个订阅由单一 goroutine 持有: 连接 → 读取 → 断开 → 固定延迟 → 重连。
// 传输失败不会清空已有转录, 只影响连接状态。
type Manager struct {
	transport Transport
	sink      Sink
	delay     time.Duration
	onState   func(State)

	startMu sync.Mutex // 串行化 Start/Stop

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   <-chan struct{}
	events uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithReconnectDelay sets the fixed reconnect delay.
func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.delay = d
		}
	}
}

// OnStateChange registers a hook called on every state transition.
func OnStateChange(fn func(State)) ManagerOption {
	return func(m *Manager) { m.onState = fn }
}

// NewManager creates a manager in the Disconnected state.
func NewManager(t Transport, sink Sink, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport: t,
		sink:      sink,
		delay:     DefaultReconnectDelay,
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the number of events delivered to the sink.
func (m *Manager) Events() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

// Start opens a new subscription, tearing down the previous one first.
// 旧订阅完全关闭后才建立新订阅, 不会出现两个并存的连接。
func (m *Manager) Start(ctx context.Context) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.teardown()

	subCtx, cancel := context.WithCancel(ctx)
	done := util.SafeGo("stream.subscription", func() { m.run(subCtx) })
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()
}

// Stop closes the subscription and waits for its goroutine to exit.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.teardown()
	m.setState(StateStopped)
}

// Done returns a channel closed when the current subscription goroutine exits.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

func (m *Manager) teardown() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context) {
	name := m.transport.Name()
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		m.setState(StateConnecting)
		conn, err := m.transport.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return
			}
			logger.Warn("stream: connect failed",
				logger.FieldTransport, name,
				logger.FieldAttempt, attempt,
				logger.FieldDelay, m.delay.String(),
				logger.FieldError, err,
			)
			m.setState(StateDisconnected)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		attempt = 0
		m.setState(StateConnected)
		logger.Info("stream: connected", logger.FieldTransport, name)
		err = m.consume(ctx, conn)
		_ = conn.Close()
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("stream: disconnected, reconnecting",
			logger.FieldTransport, name,
			logger.FieldDelay, m.delay.String(),
			logger.FieldError, err,
		)
		if !m.sleep(ctx) {
			return
		}
	}
}

func (m *Manager) consume(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.events++
		m.mu.Unlock()
		if m.sink != nil {
			m.sink(ev)
		}
	}
}

func (m *Manager) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	logger.Debug("stream: state", logger.FieldState, s.String())
	if m.onState != nil {
		m.onState(s)
	}
}
