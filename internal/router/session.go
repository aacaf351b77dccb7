package router

import (
	"encoding/json"
	"strings"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

type sessionInfoPayload struct {
	Info model.SessionInfo `json:"info"`
}

type sessionStatusPayload struct {
	SessionID string            `json:"sessionID"`
	Status    *model.WireStatus `json:"status"`
}

type sessionIDPayload struct {
	SessionID string `json:"sessionID"`
}

type sessionErrorPayload struct {
	SessionID string          `json:"sessionID"`
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
}

func (r *Router) decodeSessionInfo(props json.RawMessage, op string) (model.SessionInfo, error) {
	p, err := decode[sessionInfoPayload](props, op)
	if err != nil {
		return model.SessionInfo{}, err
	}
	if strings.TrimSpace(p.Info.ID) == "" {
		return model.SessionInfo{}, missing(op, "info.id")
	}
	r.registry.SetParent(p.Info.ID, p.Info.ParentID)
	return p.Info, nil
}

// sessionCreated 仅对子会话 (带 parentID) 发出通知; 顶层会话由外部创建流程负责。
func (r *Router) sessionCreated(props json.RawMessage, _ model.HandlerContext) (Result, error) {
	info, err := r.decodeSessionInfo(props, "Router.sessionCreated")
	if err != nil {
		return Result{}, err
	}
	if info.ParentID == "" {
		return handled(), nil
	}
	return handled(model.NotifySessionCreated{Session: info}), nil
}

func (r *Router) sessionUpdated(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	info, err := r.decodeSessionInfo(props, "Router.sessionUpdated")
	if err != nil {
		return Result{}, err
	}
	actions := []model.Action{model.NotifySessionUpdated{Session: info}}
	if info.Status == nil {
		return handled(actions...), nil
	}
	status := info.Status.SessionStatus()
	r.registry.SetStatus(info.ID, status)
	if info.ID == hctx.SessionID && status.Type == model.StatusIdle {
		actions = append(actions,
			model.SetRunning{Running: false},
			model.SetSessionStatus{Status: status},
		)
	}
	return handled(actions...), nil
}

func (r *Router) sessionStatus(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.sessionStatus"
	p, err := decode[sessionStatusPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if p.SessionID == "" {
		return Result{}, missing(op, "sessionID")
	}
	if p.Status == nil || p.Status.Type == "" {
		return Result{}, missing(op, "status.type")
	}
	return r.applyStatus(op, p.SessionID, p.Status.SessionStatus(), hctx)
}

func (r *Router) sessionIdle(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.sessionIdle"
	p, err := decode[sessionIDPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if p.SessionID == "" {
		return Result{}, missing(op, "sessionID")
	}
	return r.applyStatus(op, p.SessionID, model.IdleStatus(), hctx)
}

// applyStatus 先更新全局 registry (不受会话过滤), 再为当前会话生成状态机动作:
//
//	busy  → status busy,  running=true,  activity on
//	retry → status retry, running=true,  activity on
//	idle  → status idle,  running=false, activity off
func (r *Router) applyStatus(op, sessionID string, status model.SessionStatus, hctx model.HandlerContext) (Result, error) {
	r.registry.SetStatus(sessionID, status)
	if err := checkSession(op, sessionID, hctx); err != nil {
		return Result{}, err
	}
	working := status.Working()
	return handled(
		model.SetSessionStatus{Status: status},
		model.SetRunning{Running: working},
		model.UpdateSessionActivity{SessionID: sessionID, Active: working},
	), nil
}

func (r *Router) sessionError(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.sessionError"
	p, err := decode[sessionErrorPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if err := checkSession(op, p.SessionID, hctx); err != nil {
		return Result{}, err
	}
	msg := model.ErrorMessage(p.Error)
	if msg == "" {
		msg = strings.TrimSpace(p.Message)
	}
	if msg == "" {
		msg = defaultErrorMessage
	}
	logger.Warn("router: session error",
		logger.FieldSessionID, p.SessionID,
		logger.FieldError, msg,
	)
	return handled(
		model.SetError{Message: msg},
		model.SetRunning{Running: false},
	), nil
}

// sessionDeleted 清理 registry; 删除当前会话仅记录日志, 导航由外部处理。
func (r *Router) sessionDeleted(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.sessionDeleted"
	p, err := decode[sessionInfoPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if p.Info.ID == "" {
		return Result{}, missing(op, "info.id")
	}
	r.registry.Forget(p.Info.ID)
	if p.Info.ID == hctx.SessionID {
		logger.Warn("router: active session deleted", logger.FieldSessionID, p.Info.ID)
	}
	return handled(), nil
}

func (r *Router) sessionInformational(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	p, err := decode[sessionIDPayload](props, "Router.sessionInformational")
	if err != nil {
		return Result{}, err
	}
	logger.Debug("router: session event", logger.FieldSessionID, p.SessionID)
	return handled(), nil
}

func (r *Router) serverConnected(json.RawMessage, model.HandlerContext) (Result, error) {
	logger.Debug("router: server connected")
	return handled(), nil
}

type fileEventPayload struct {
	File  string `json:"file"`
	Event string `json:"event"`
}

func (r *Router) fileEvent(props json.RawMessage, _ model.HandlerContext) (Result, error) {
	p, err := decode[fileEventPayload](props, "Router.fileEvent")
	if err != nil {
		return Result{}, err
	}
	logger.Debug("router: file event", logger.FieldPath, p.File, logger.FieldAction, p.Event)
	return handled(), nil
}
