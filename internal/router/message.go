package router

import (
	"encoding/json"

	"github.com/multi-agent/transcript-sync/internal/convert"
	"github.com/multi-agent/transcript-sync/internal/merge"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

type messageUpdatedPayload struct {
	Info model.MessageInfo `json:"info"`
}

type partUpdatedPayload struct {
	Part  model.Part `json:"part"`
	Delta string     `json:"delta"`
}

type messageRemovedPayload struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

type partRemovedPayload struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// messageUpdated 处理三种情况:
//   - user 角色且存在待确认的乐观消息: replace-optimistic-id (主去重路径)。
//     真实 id 已在列表中时 (历史重载 / part 先到) 仅当它排在乐观消息之后才视为同一条
//   - id 已存在: 仅刷新元数据 (完成时间/错误/模型/总量), 不改内容
//   - 其他: add-message 一个携带 agent/mode/创建时间的空消息
func (r *Router) messageUpdated(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.messageUpdated"
	p, err := decode[messageUpdatedPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	info := p.Info
	if info.ID == "" {
		return Result{}, missing(op, "info.id")
	}
	if err := checkSession(op, info.SessionID, hctx); err != nil {
		return Result{}, err
	}

	if info.Role == model.RoleUser {
		if opt, ok := hctx.FindOptimistic(util.FirstNonEmpty(info.SessionID, hctx.SessionID)); ok {
			if realIdx := hctx.IndexOf(info.ID); realIdx < 0 || realIdx > hctx.IndexOf(opt.ID) {
				return handled(model.ReplaceOptimisticID{
					OptimisticID: opt.ID,
					RealID:       info.ID,
					Info:         info,
				}), nil
			}
		}
	}

	if hctx.HasMessage(info.ID) {
		return handled(model.UpdateMessage{
			ID:     info.ID,
			Update: func(m model.Message) model.Message { return merge.ApplyInfo(m, info) },
		}), nil
	}

	msg := merge.FromInfo(info)
	if msg.SessionID == "" {
		msg.SessionID = hctx.SessionID
	}
	if msg.Role == "" {
		msg.Role = model.RoleAssistant
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = r.now().UnixMilli()
	}
	return handled(model.AddMessage{Message: msg}), nil
}

// partUpdated 合并一个 part。目标消息不存在时合成 assistant 占位消息
// (part 先于 message.updated 到达只会发生在 agent 消息上)。
func (r *Router) partUpdated(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.partUpdated"
	p, err := decode[partUpdatedPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	part := p.Part
	switch {
	case part.ID == "":
		return Result{}, missing(op, "part.id")
	case part.MessageID == "":
		return Result{}, missing(op, "part.messageID")
	case part.Type == "":
		return Result{}, missing(op, "part.type")
	}
	if err := checkSession(op, part.SessionID, hctx); err != nil {
		return Result{}, err
	}
	if err := checkMessageSession(op, part.MessageID, hctx); err != nil {
		return Result{}, err
	}

	res, ok := convert.FromDelta(part, p.Delta)
	if !ok {
		return Result{}, nil
	}

	if !hctx.HasMessage(part.MessageID) {
		sessionID := util.FirstNonEmpty(part.SessionID, hctx.SessionID)
		msg := merge.NewPlaceholder(part.MessageID, sessionID, model.RoleAssistant, r.now())
		return handled(model.AddMessage{Message: merge.Apply(msg, res)}), nil
	}
	return handled(model.UpdateMessage{
		ID:     part.MessageID,
		Update: func(m model.Message) model.Message { return merge.Apply(m, res) },
	}), nil
}

func (r *Router) messageRemoved(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.messageRemoved"
	p, err := decode[messageRemovedPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	if p.MessageID == "" {
		return Result{}, missing(op, "messageID")
	}
	if err := checkSession(op, p.SessionID, hctx); err != nil {
		return Result{}, err
	}
	if err := checkMessageSession(op, p.MessageID, hctx); err != nil {
		return Result{}, err
	}
	return handled(model.RemoveMessage{ID: p.MessageID}), nil
}

func (r *Router) partRemoved(props json.RawMessage, hctx model.HandlerContext) (Result, error) {
	const op = "Router.partRemoved"
	p, err := decode[partRemovedPayload](props, op)
	if err != nil {
		return Result{}, err
	}
	switch {
	case p.MessageID == "":
		return Result{}, missing(op, "messageID")
	case p.PartID == "":
		return Result{}, missing(op, "partID")
	}
	if err := checkSession(op, p.SessionID, hctx); err != nil {
		return Result{}, err
	}
	if err := checkMessageSession(op, p.MessageID, hctx); err != nil {
		return Result{}, err
	}
	if !hctx.HasMessage(p.MessageID) {
		return handled(), nil
	}
	partID := p.PartID
	return handled(model.UpdateMessage{
		ID:     p.MessageID,
		Update: func(m model.Message) model.Message { return merge.RemovePart(m, partID) },
	}), nil
}
