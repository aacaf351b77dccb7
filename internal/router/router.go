// Package router 将后端推送事件映射为 model.Action。
//
// 每种事件类型对应一个纯 handler: (properties, HandlerContext) → Result。
// payload 按事件类型解码为带必填字段校验的具体结构; 解码失败、会话不匹配、
// 未知事件类型一律降级为 Handled=false, 从不 panic 或向上抛错。
//
// 唯一的副作用是注入的 Registry: session.status / session.idle 在过滤之前
// 更新所有会话的状态, session.created / session.updated 记录父子关系。
package router

import (
	"encoding/json"
	"time"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/registry"
	pkgerr "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// defaultErrorMessage is shown when session.error carries nothing readable.
const defaultErrorMessage = "An unexpected error occurred"

// Result is the outcome of routing one event.
type Result struct {
	Actions []model.Action
	Handled bool
}

func handled(actions ...model.Action) Result { return Result{Actions: actions, Handled: true} }

type handlerFunc func(r *Router, props json.RawMessage, hctx model.HandlerContext) (Result, error)

var handlers = map[string]handlerFunc{
	model.EventSessionCreated:     (*Router).sessionCreated,
	model.EventSessionUpdated:     (*Router).sessionUpdated,
	model.EventSessionStatus:      (*Router).sessionStatus,
	model.EventSessionIdle:        (*Router).sessionIdle,
	model.EventSessionError:       (*Router).sessionError,
	model.EventSessionDeleted:     (*Router).sessionDeleted,
	model.EventSessionCompacted:   (*Router).sessionInformational,
	model.EventSessionDiff:        (*Router).sessionInformational,
	model.EventMessageUpdated:     (*Router).messageUpdated,
	model.EventMessageRemoved:     (*Router).messageRemoved,
	model.EventPartUpdated:        (*Router).partUpdated,
	model.EventPartRemoved:        (*Router).partRemoved,
	model.EventPermissionUpdated:  (*Router).permissionUpdated,
	model.EventPermissionReplied:  (*Router).permissionReplied,
	model.EventFileEdited:         (*Router).fileEvent,
	model.EventFileWatcherUpdated: (*Router).fileEvent,
	model.EventServerConnected:    (*Router).serverConnected,
}

// Router dispatches raw events to their handlers.
type Router struct {
	registry *registry.Registry
	now      func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the clock used for placeholder timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router bound to reg. A nil reg gets a private registry.
func New(reg *registry.Registry, opts ...Option) *Router {
	if reg == nil {
		reg = registry.New()
	}
	r := &Router{registry: reg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the injected registry.
func (r *Router) Registry() *registry.Registry { return r.registry }

// Route maps one event to actions. hctx must not be mutated by the caller
// until the returned actions are applied.
func (r *Router) Route(ev model.RawEvent, hctx model.HandlerContext) Result {
	h, ok := handlers[ev.Type]
	if !ok {
		logger.Warn("router: unknown event type",
			logger.FieldEventType, ev.Type,
			logger.FieldError, pkgerr.ErrUnknownEvent,
		)
		return Result{}
	}
	res, err := h(r, ev.Properties, hctx)
	if err != nil {
		if pkgerr.Is(err, pkgerr.ErrSessionMismatch) {
			logger.Debug("router: event for another session dropped",
				logger.FieldEventType, ev.Type,
				logger.FieldSessionID, hctx.SessionID,
				logger.FieldError, err,
			)
		} else {
			logger.Warn("router: event not handled",
				logger.FieldEventType, ev.Type,
				logger.FieldError, err,
			)
		}
		return Result{}
	}
	if len(res.Actions) > 0 {
		logger.Debug("router: event routed",
			logger.FieldEventType, ev.Type,
			logger.FieldCount, len(res.Actions),
		)
	}
	return res
}

// decode unmarshals props into T, wrapping failures as malformed events.
func decode[T any](props json.RawMessage, op string) (T, error) {
	var v T
	if len(props) == 0 {
		return v, pkgerr.Wrap(pkgerr.ErrMalformedEvent, op, "missing properties")
	}
	if err := json.Unmarshal(props, &v); err != nil {
		return v, pkgerr.Wrap(pkgerr.ErrMalformedEvent, op, err.Error())
	}
	return v, nil
}

func missing(op, field string) error {
	return pkgerr.Wrapf(pkgerr.ErrMalformedEvent, op, "missing required field %q", field)
}

// checkSession drops events whose session differs from the active one.
// 空 sessionID 视为未声明, 不过滤; 尚未选择会话时所有带会话的事件都被丢弃。
func checkSession(op, sessionID string, hctx model.HandlerContext) error {
	if sessionID == "" || sessionID == hctx.SessionID {
		return nil
	}
	return pkgerr.Wrapf(pkgerr.ErrSessionMismatch, op, "event session %s, active %q", sessionID, hctx.SessionID)
}

// checkMessageSession drops events targeting a known message of another session.
func checkMessageSession(op, messageID string, hctx model.HandlerContext) error {
	if msg, ok := hctx.FindMessage(messageID); ok {
		return checkSession(op, msg.SessionID, hctx)
	}
	return nil
}
