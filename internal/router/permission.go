package router

import (
	"encoding/json"
	"strings"

	"github.com/multi-agent/transcript-sync/internal/model"
	pkgerr "github.com/multi-agent/transcript-sync/pkg/errors"
)

// patternList accepts either a single pattern string or a list.
type patternList []string

func (p *patternList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*p = []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*p = many
	return nil
}

type permissionPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Pattern   patternList    `json:"pattern"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	CallID    string         `json:"callID"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata"`
	Time      struct {
		Created int64 `json:"created"`
	} `json:"time"`
}

type permissionRepliedPayload struct {
	SessionID    string `json:"sessionID"`
	PermissionID string `json:"permissionID"`
	Response     string `json:"response"`
}

// checkPermissionSession 接受当前会话及其子会话的权限事件,
// 使子 agent 的审批请求在父会话视图中可见。
func (r *Router) checkPermissionSession(op, sessionID string, hctx model.HandlerContext) error {
	if sessionID == "" || sessionID == hctx.SessionID {
		return nil
	}
	if r.registry.IsDescendant(sessionID, hctx.SessionID) {
		return nil
	}
	return pkgerr.Wrapf(pkgerr.ErrSessionMismatch, op, "permission session %s not under %q", sessionID, hctx.SessionID)
}

func (r *Router) permissionUpdated(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.permissionUpdated"
	p, err := decode[permissionPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	switch {
	case strings.TrimSpace(p.ID) == "":
		return Result{}, missing(op, "id")
	case p.SessionID == "":
		return Result{}, missing(op, "sessionID")
	}
	if err := r.checkPermissionSession(op, p.SessionID, hctx); err != nil {
		return Result{}, err
	}
	return handled(model.AddPermission{Permission: model.PermissionRequest{
		ID:        p.ID,
		Type:      p.Type,
		Pattern:   []string(p.Pattern),
		SessionID: p.SessionID,
		MessageID: p.MessageID,
		CallID:    p.CallID,
		Title:     p.Title,
		Metadata:  p.Metadata,
		Time:      p.Time.Created,
	}}), nil
}

// permissionReplied 按 id 移除, 不按会话过滤: 队列跨会话切换保留,
// 其他客户端答复的子会话权限在切换后也必须出队。未知 id 为 no-op。
func (r *Router) permissionReplied(props json.RawMessage, _ model.HandlerContext) (Result, error) {
	const op = "Router.permissionReplied"
	p, err := decode[permissionRepliedPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if p.PermissionID == "" {
		return Result{}, missing(op, "permissionID")
	}
	return handled(model.RemovePermission{ID: p.PermissionID}), nil
}
