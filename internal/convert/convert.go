// Package convert 将单个 wire part 归一化为 model.PartConversionResult。
//
// 两个入口:
//   - FromSnapshot: 历史加载, part.text 是完整文本
//   - FromDelta:    实时事件, delta 优先; 同时携带 part.text 作为权威全量值
//
// 纯函数, 无状态, 无锁。未知 part 类型返回 ok=false 并记录日志, 从不 panic。
package convert

import (
	"encoding/json"
	"strings"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// FromSnapshot converts a part from a full history load.
func FromSnapshot(part model.Part) (model.PartConversionResult, bool) {
	var text *model.TextUpdate
	if part.Text != nil {
		text = model.FullText(*part.Text)
	}
	return convert(part, text)
}

// FromDelta converts a part from a live message.part.updated event.
//
// delta 非空时作为追加片段, part.text (若存在) 随附用于去重;
// delta 为空时 part.text 视为全量替换。
func FromDelta(part model.Part, delta string) (model.PartConversionResult, bool) {
	var text *model.TextUpdate
	switch {
	case delta != "":
		text = &model.TextUpdate{Delta: delta}
		if part.Text != nil {
			text.Full = *part.Text
			text.HasFull = true
		}
	case part.Text != nil:
		text = model.FullText(*part.Text)
	}
	return convert(part, text)
}

func convert(part model.Part, text *model.TextUpdate) (model.PartConversionResult, bool) {
	res := model.PartConversionResult{
		PartID:    part.ID,
		MessageID: part.MessageID,
		SessionID: part.SessionID,
	}

	switch part.Type {
	case model.PartText:
		res.Kind = model.ContentText
		res.Text = text
		if res.Text == nil {
			res.Text = &model.TextUpdate{}
		}

	case model.PartReasoning:
		res.Kind = model.ContentReasoning
		r := &model.ReasoningUpdate{ID: part.ID, StartedAt: part.Time.Start, EndedAt: part.Time.End}
		if text != nil {
			r.Text = *text
		}
		res.Reasoning = r

	case model.PartTool:
		res.Kind = model.ContentTool
		call := toolCall(part)
		res.ToolCall = &call

	case model.PartFile:
		res.Kind = model.ContentFile
		f := fileAttachment(part)
		res.File = &f

	case model.PartStepStart:
		res.Kind = model.ContentStep
		res.Step = &model.StepRecord{ID: part.ID, Phase: model.StepStart, Snapshot: part.Snapshot}

	case model.PartStepFinish:
		res.Kind = model.ContentStep
		step := &model.StepRecord{
			ID:       part.ID,
			Phase:    model.StepFinish,
			Reason:   part.Reason,
			Snapshot: part.Snapshot,
		}
		if part.Tokens != nil {
			usage := part.Tokens.Usage()
			step.Tokens = &usage
		}
		if part.Cost != nil {
			step.Cost = *part.Cost
		}
		res.Step = step

	case model.PartPatch:
		res.Kind = model.ContentPatch
		res.Patch = &model.Patch{ID: part.ID, Hash: part.Hash, Files: append([]string(nil), part.Files...)}

	case model.PartSubtask:
		res.Kind = model.ContentSubtask
		res.Subtask = &model.Subtask{
			ID:          part.ID,
			Prompt:      part.Prompt,
			Description: part.Description,
			Agent:       part.Agent,
		}

	case model.PartRetry:
		res.Kind = model.ContentRetry
		res.Retry = &model.Retry{
			ID:        part.ID,
			Attempt:   part.Attempt,
			Message:   model.ErrorMessage(part.Error),
			CreatedAt: part.Time.Start,
		}

	case model.PartAgent:
		res.Kind = model.ContentAgent
		res.Agent = strings.TrimSpace(part.Name)

	case model.PartCompaction:
		res.Kind = model.ContentCompact
		res.Compacted = true

	case model.PartSnapshot:
		return model.PartConversionResult{}, false

	default:
		logger.Warn("convert: unhandled part type",
			logger.FieldPartType, part.Type,
			logger.FieldPartID, part.ID,
			logger.FieldMessageID, part.MessageID,
		)
		return model.PartConversionResult{}, false
	}
	return res, true
}

// toolCall 按状态取 result: completed → output; error → error 回退 output; 其他 → nil。
func toolCall(part model.Part) model.ToolCall {
	call := model.ToolCall{
		ToolCallID: part.CallID,
		ToolName:   part.Tool,
		Status:     model.ToolPending,
	}
	if call.ToolCallID == "" {
		call.ToolCallID = part.ID
	}
	state := part.State
	if state == nil {
		return call
	}
	if s := model.ToolStatus(strings.ToLower(strings.TrimSpace(state.Status))); s.Rank() >= 0 {
		call.Status = s
	}
	call.Args = state.Input
	call.ArgsRaw = state.Raw
	if call.ArgsRaw == "" && len(state.Input) > 0 {
		if raw, err := json.Marshal(state.Input); err == nil {
			call.ArgsRaw = string(raw)
		}
	}
	call.Title = state.Title
	call.Metadata = state.Metadata
	call.StartedAt = state.Time.Start
	call.EndedAt = state.Time.End

	switch call.Status {
	case model.ToolCompleted:
		if state.Output != nil {
			out := *state.Output
			call.Result = &out
		}
	case model.ToolError:
		switch {
		case state.Error != nil:
			msg := *state.Error
			call.Result = &msg
			call.Error = msg
		case state.Output != nil:
			out := *state.Output
			call.Result = &out
			call.Error = out
		}
	}

	for _, att := range state.Attachments {
		call.Attachments = append(call.Attachments, fileAttachment(att))
	}
	call.ChildSessionID = childSessionID(state.Metadata)
	return call
}

// childSessionID 读取 task 工具 metadata 中的子会话 id。
func childSessionID(meta map[string]any) string {
	for _, key := range []string{"sessionId", "sessionID", "session_id"} {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func fileAttachment(part model.Part) model.FileAttachment {
	f := model.FileAttachment{
		ID:       part.ID,
		Mime:     part.Mime,
		Filename: part.Filename,
		URL:      part.URL,
	}
	if part.Source != nil {
		f.SourcePath = part.Source.Path
	}
	return f
}
