// Package merge 将 PartConversionResult 折叠进 Message。
//
// 所有函数均为纯函数: 输入 Message 不被修改, 返回值是深拷贝后的新值。
// 合并规则保证幂等 (重复投递不产生重复条目、不重复累计 tokens/cost)。
package merge

import (
	"sort"
	"strings"
	"time"

	"github.com/multi-agent/transcript-sync/internal/model"
)

// textSeparator joins multiple text parts into Message.Text.
const textSeparator = "\n\n"

// NewPlaceholder creates an empty message for an id not yet known.
func NewPlaceholder(id, sessionID string, role model.Role, now time.Time) model.Message {
	if role == "" {
		role = model.RoleAssistant
	}
	return model.Message{
		ID:        id,
		Role:      role,
		SessionID: sessionID,
		CreatedAt: now.UnixMilli(),
	}
}

// Apply folds one conversion result into msg.
func Apply(msg model.Message, res model.PartConversionResult) model.Message {
	out := msg.Clone()

	switch res.Kind {
	case model.ContentText:
		idx := ensurePart(&out, res.PartID, model.ContentText, "")
		cp := &out.ContentParts[idx]
		cp.Text, cp.LastDelta = applyText(cp.Text, cp.LastDelta, res.Text)
		rebuildText(&out, false)

	case model.ContentReasoning:
		if res.Reasoning == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentReasoning, res.Reasoning.ID)
		applyReasoning(&out, *res.Reasoning)

	case model.ContentTool:
		if res.ToolCall == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentTool, res.ToolCall.ToolCallID)
		if out.ToolCalls == nil {
			out.ToolCalls = make(map[string]*model.ToolCall)
		}
		merged := MergeToolCall(out.ToolCalls[res.ToolCall.ToolCallID], *res.ToolCall)
		out.ToolCalls[res.ToolCall.ToolCallID] = &merged

	case model.ContentFile:
		if res.File == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentFile, res.File.ID)
		out.Files = upsert(out.Files, *res.File, func(f model.FileAttachment) string { return f.ID })

	case model.ContentStep:
		if res.Step == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentStep, res.Step.ID)
		applyStep(&out, *res.Step)

	case model.ContentPatch:
		if res.Patch == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentPatch, res.Patch.ID)
		out.Patches = upsert(out.Patches, *res.Patch, func(p model.Patch) string { return p.ID })

	case model.ContentSubtask:
		if res.Subtask == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentSubtask, res.Subtask.ID)
		out.Subtasks = upsert(out.Subtasks, *res.Subtask, func(s model.Subtask) string { return s.ID })

	case model.ContentRetry:
		if res.Retry == nil {
			break
		}
		ensurePart(&out, res.PartID, model.ContentRetry, res.Retry.ID)
		out.Retries = upsert(out.Retries, *res.Retry, func(r model.Retry) string { return r.ID })

	case model.ContentAgent:
		if res.Agent != "" {
			out.Agent = res.Agent
		}

	case model.ContentCompact:
		out.IsCompacted = true
	}
	return out
}

// ApplyInfo refreshes message metadata from a backend info record.
// 内容 (text / parts) 不变; info 中的 tokens/cost 为权威总量, 覆盖本地累计值。
func ApplyInfo(msg model.Message, info model.MessageInfo) model.Message {
	out := msg.Clone()
	if info.Role != "" {
		out.Role = info.Role
	}
	if out.SessionID == "" {
		out.SessionID = info.SessionID
	}
	if info.Agent != "" {
		out.Agent = info.Agent
	}
	if info.Mode != "" {
		out.Mode = info.Mode
	}
	if info.ModelID != "" {
		out.ModelID = info.ModelID
	}
	if info.ProviderID != "" {
		out.ProviderID = info.ProviderID
	}
	if info.ParentID != "" {
		out.ParentID = info.ParentID
	}
	if info.Time.Created > 0 && (out.CreatedAt == 0 || info.Time.Created < out.CreatedAt) {
		out.CreatedAt = info.Time.Created
	}
	if info.Time.Completed > out.CompletedAt {
		out.CompletedAt = info.Time.Completed
	}
	if msg := model.ErrorMessage(info.Error); msg != "" {
		out.Error = msg
	}
	if info.Summary {
		out.IsCompacted = true
	}
	if info.Tokens != nil {
		usage := info.Tokens.Usage()
		out.Tokens = &usage
	}
	if info.Cost != nil {
		c := *info.Cost
		out.Cost = &c
	}
	return out
}

// FromInfo builds an empty message from a backend info record.
func FromInfo(info model.MessageInfo) model.Message {
	msg := model.Message{ID: info.ID, Role: info.Role, SessionID: info.SessionID}
	return ApplyInfo(msg, info)
}

// applyText 规则:
//   - 有 delta 且有 full: full 不长于当前值视为重复/过期, 忽略; 否则以 full 重新同步
//   - 仅 delta: 与上一次追加的 delta 相同视为重复投递, 忽略; 否则追加
//   - 仅 full: 不缩短时替换
//
// 返回新文本与新的 lastDelta。
func applyText(cur, lastDelta string, upd *model.TextUpdate) (string, string) {
	if upd == nil {
		return cur, lastDelta
	}
	if upd.HasFull {
		if len(upd.Full) < len(cur) {
			return cur, lastDelta
		}
		if upd.Delta != "" && len(upd.Full) == len(cur) {
			return cur, lastDelta
		}
		return upd.Full, upd.Delta
	}
	if upd.Delta == "" {
		return cur, lastDelta
	}
	if upd.Delta == lastDelta && strings.HasSuffix(cur, upd.Delta) {
		return cur, lastDelta
	}
	return cur + upd.Delta, upd.Delta
}

// ensurePart returns the index of the content part for partID, appending one if needed.
func ensurePart(msg *model.Message, partID string, kind model.ContentKind, refID string) int {
	if partID == "" {
		partID = string(kind) + ":" + refID
	}
	for i := range msg.ContentParts {
		if msg.ContentParts[i].ID == partID {
			if refID != "" {
				msg.ContentParts[i].RefID = refID
			}
			return i
		}
	}
	msg.PartOrderCounter++
	msg.ContentParts = append(msg.ContentParts, model.ContentPart{
		ID:    partID,
		Kind:  kind,
		Order: msg.PartOrderCounter,
		RefID: refID,
	})
	return len(msg.ContentParts) - 1
}

// rebuildText recomputes Message.Text from its text parts.
// force=false 时只接受不短于当前值的结果 (乐观消息文本不被更短的值覆盖)。
func rebuildText(msg *model.Message, force bool) {
	var texts []string
	hasTextPart := false
	for _, p := range msg.ContentParts {
		if p.Kind != model.ContentText {
			continue
		}
		hasTextPart = true
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if !hasTextPart && !force {
		return
	}
	joined := strings.Join(texts, textSeparator)
	if force || len(joined) >= len(msg.Text) {
		msg.Text = joined
	}
}

func applyReasoning(msg *model.Message, upd model.ReasoningUpdate) {
	for i := range msg.Reasoning {
		r := &msg.Reasoning[i]
		if r.ID != upd.ID {
			continue
		}
		r.Text, r.LastDelta = applyText(r.Text, r.LastDelta, &upd.Text)
		if upd.StartedAt > 0 && r.StartedAt == 0 {
			r.StartedAt = upd.StartedAt
		}
		if upd.EndedAt > r.EndedAt {
			r.EndedAt = upd.EndedAt
		}
		return
	}
	text, last := applyText("", "", &upd.Text)
	msg.Reasoning = append(msg.Reasoning, model.Reasoning{
		ID:        upd.ID,
		Text:      text,
		StartedAt: upd.StartedAt,
		EndedAt:   upd.EndedAt,
		LastDelta: last,
	})
}

// applyStep merges start/finish of the same id into one Step and accounts
// tokens/cost exactly once when the step first reaches finish.
func applyStep(msg *model.Message, rec model.StepRecord) {
	idx := -1
	for i := range msg.Steps {
		if msg.Steps[i].ID == rec.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		msg.Steps = append(msg.Steps, model.Step{ID: rec.ID, Phase: model.StepStart})
		idx = len(msg.Steps) - 1
	}
	step := &msg.Steps[idx]
	if rec.Snapshot != "" {
		step.Snapshot = rec.Snapshot
	}
	if rec.Phase != model.StepFinish {
		return
	}
	step.Phase = model.StepFinish
	if rec.Reason != "" {
		step.Reason = rec.Reason
	}
	if rec.Tokens != nil {
		t := *rec.Tokens
		step.Tokens = &t
	}
	if rec.Cost != 0 {
		step.Cost = rec.Cost
	}
	if step.Accounted {
		return
	}
	step.Accounted = true
	if step.Tokens != nil {
		total := step.Tokens.Add(model.TokenUsage{})
		if msg.Tokens != nil {
			total = msg.Tokens.Add(*step.Tokens)
		}
		msg.Tokens = &total
	}
	if step.Cost != 0 {
		cost := step.Cost
		if msg.Cost != nil {
			cost += *msg.Cost
		}
		msg.Cost = &cost
	}
}

// MergeToolCall merges next into prev. Non-zero fields of next overwrite prev,
// but status never regresses and a terminal call keeps its result.
func MergeToolCall(prev *model.ToolCall, next model.ToolCall) model.ToolCall {
	if prev == nil {
		return next.Clone()
	}
	out := prev.Clone()
	stale := next.Status.Rank() < out.Status.Rank() || (out.Status.IsTerminal() && next.Status != out.Status)

	fill := func(dst *string, v string) {
		if v != "" && (!stale || *dst == "") {
			*dst = v
		}
	}
	fill(&out.ToolName, next.ToolName)
	fill(&out.ArgsRaw, next.ArgsRaw)
	fill(&out.Title, next.Title)
	fill(&out.ChildSessionID, next.ChildSessionID)
	if len(next.Args) > 0 && (!stale || len(out.Args) == 0) {
		out.Args = next.Clone().Args
	}
	if len(next.Metadata) > 0 && (!stale || len(out.Metadata) == 0) {
		out.Metadata = next.Clone().Metadata
	}
	if len(next.Attachments) > 0 && (!stale || len(out.Attachments) == 0) {
		out.Attachments = append([]model.FileAttachment(nil), next.Attachments...)
	}
	if next.StartedAt > 0 && out.StartedAt == 0 {
		out.StartedAt = next.StartedAt
	}
	if stale {
		return out
	}

	if next.Status.Rank() > out.Status.Rank() {
		out.Status = next.Status
	}
	if next.EndedAt > out.EndedAt {
		out.EndedAt = next.EndedAt
	}
	if next.Result != nil && (out.Result == nil || !out.Status.IsTerminal() || len(*next.Result) >= len(*out.Result)) {
		r := *next.Result
		out.Result = &r
	}
	if next.Error != "" {
		out.Error = next.Error
	}
	return out
}

// upsert updates the element with the same key in place, else appends.
func upsert[T any](list []T, item T, key func(T) string) []T {
	k := key(item)
	for i := range list {
		if key(list[i]) == k {
			list[i] = item
			return list
		}
	}
	return append(list, item)
}

// RemovePart removes one part by id using the part-kind specific rule.
// 最后一个 text part 被移除时 Text 置为 ""。未知 id 不做任何修改。
func RemovePart(msg model.Message, partID string) model.Message {
	out := msg.Clone()
	idx := -1
	for i := range out.ContentParts {
		if out.ContentParts[i].ID == partID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}
	part := out.ContentParts[idx]
	out.ContentParts = append(out.ContentParts[:idx], out.ContentParts[idx+1:]...)

	ref := part.RefID
	if ref == "" {
		ref = part.ID
	}
	switch part.Kind {
	case model.ContentText:
		rebuildText(&out, true)
	case model.ContentReasoning:
		out.Reasoning = removeByID(out.Reasoning, ref, func(r model.Reasoning) string { return r.ID })
	case model.ContentTool:
		delete(out.ToolCalls, ref)
	case model.ContentFile:
		out.Files = removeByID(out.Files, ref, func(f model.FileAttachment) string { return f.ID })
	case model.ContentStep:
		out.Steps = removeByID(out.Steps, ref, func(s model.Step) string { return s.ID })
	case model.ContentPatch:
		out.Patches = removeByID(out.Patches, ref, func(p model.Patch) string { return p.ID })
	case model.ContentSubtask:
		out.Subtasks = removeByID(out.Subtasks, ref, func(s model.Subtask) string { return s.ID })
	case model.ContentRetry:
		out.Retries = removeByID(out.Retries, ref, func(r model.Retry) string { return r.ID })
	}
	return out
}

func removeByID[T any](list []T, id string, key func(T) string) []T {
	out := list[:0]
	for _, item := range list {
		if key(item) != id {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Messages merges two full messages with the same id.
//
// 列表字段按 id 取并集, Text 取较长者 (不拼接), 工具调用按状态规则合并,
// CreatedAt 取最早, 元数据优先保留 existing 的非空值。
func Messages(existing, incoming model.Message) model.Message {
	out := existing.Clone()
	in := incoming.Clone()

	if out.Role == "" {
		out.Role = in.Role
	}
	if out.SessionID == "" {
		out.SessionID = in.SessionID
	}
	preferNonEmpty(&out.Agent, in.Agent)
	preferNonEmpty(&out.Mode, in.Mode)
	preferNonEmpty(&out.ModelID, in.ModelID)
	preferNonEmpty(&out.ProviderID, in.ProviderID)
	preferNonEmpty(&out.ParentID, in.ParentID)
	preferNonEmpty(&out.Error, in.Error)
	out.IsCompacted = out.IsCompacted || in.IsCompacted
	if in.CreatedAt > 0 && (out.CreatedAt == 0 || in.CreatedAt < out.CreatedAt) {
		out.CreatedAt = in.CreatedAt
	}
	if in.CompletedAt > out.CompletedAt {
		out.CompletedAt = in.CompletedAt
	}

	// content parts: 已知 id 保留原 order, 新 id 追加在后
	if in.PartOrderCounter > out.PartOrderCounter {
		out.PartOrderCounter = in.PartOrderCounter
	}
	sort.SliceStable(in.ContentParts, func(i, j int) bool { return in.ContentParts[i].Order < in.ContentParts[j].Order })
	for _, p := range in.ContentParts {
		found := false
		for i := range out.ContentParts {
			if out.ContentParts[i].ID != p.ID {
				continue
			}
			found = true
			if len(p.Text) > len(out.ContentParts[i].Text) {
				out.ContentParts[i].Text = p.Text
			}
			break
		}
		if !found {
			out.PartOrderCounter++
			p.Order = out.PartOrderCounter
			out.ContentParts = append(out.ContentParts, p)
		}
	}

	for id, call := range in.ToolCalls {
		if call == nil {
			continue
		}
		if out.ToolCalls == nil {
			out.ToolCalls = make(map[string]*model.ToolCall, len(in.ToolCalls))
		}
		merged := MergeToolCall(out.ToolCalls[id], *call)
		out.ToolCalls[id] = &merged
	}

	for _, r := range in.Reasoning {
		applyReasoning(&out, model.ReasoningUpdate{ID: r.ID, Text: *model.FullText(r.Text), StartedAt: r.StartedAt, EndedAt: r.EndedAt})
	}
	out.Files = union(out.Files, in.Files, func(f model.FileAttachment) string { return f.ID })
	out.Patches = union(out.Patches, in.Patches, func(p model.Patch) string { return p.ID })
	out.Subtasks = union(out.Subtasks, in.Subtasks, func(s model.Subtask) string { return s.ID })
	out.Retries = union(out.Retries, in.Retries, func(r model.Retry) string { return r.ID })
	out.Steps = mergeSteps(out.Steps, in.Steps)

	out.Tokens = maxTokens(out.Tokens, in.Tokens)
	if in.Cost != nil && (out.Cost == nil || *in.Cost > *out.Cost) {
		c := *in.Cost
		out.Cost = &c
	}
	// 两侧各自累计了不同的 step 时, 单侧总量小于并集之和; info 总量不小于该和, 仍然保留
	stepTokens, stepCost := accountedTotals(out.Steps)
	out.Tokens = maxTokens(out.Tokens, stepTokens)
	if stepCost != nil && (out.Cost == nil || *stepCost > *out.Cost) {
		out.Cost = stepCost
	}

	if len(in.Text) > len(out.Text) {
		out.Text = in.Text
	}
	rebuildText(&out, false)
	return out
}

func preferNonEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// union appends items of b whose key is not already present in a.
func union[T any](a, b []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(a))
	for _, item := range a {
		seen[key(item)] = struct{}{}
	}
	for _, item := range b {
		if _, ok := seen[key(item)]; ok {
			continue
		}
		seen[key(item)] = struct{}{}
		a = append(a, item)
	}
	return a
}

// mergeSteps unions by id; a finished record wins over a started one and
// Accounted is kept if either side already accounted the step.
func mergeSteps(a, b []model.Step) []model.Step {
	for _, s := range b {
		idx := -1
		for i := range a {
			if a[i].ID == s.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			a = append(a, s)
			continue
		}
		accounted := a[idx].Accounted || s.Accounted
		if a[idx].Phase != model.StepFinish && s.Phase == model.StepFinish {
			a[idx] = s
		}
		a[idx].Accounted = accounted
	}
	return a
}

// accountedTotals sums tokens and cost of accounted steps.
func accountedTotals(steps []model.Step) (*model.TokenUsage, *float64) {
	var (
		tokens *model.TokenUsage
		cost   *float64
	)
	for _, st := range steps {
		if !st.Accounted {
			continue
		}
		if st.Tokens != nil {
			sum := *st.Tokens
			if tokens != nil {
				sum = tokens.Add(sum)
			}
			tokens = &sum
		}
		if st.Cost != 0 {
			c := st.Cost
			if cost != nil {
				c += *cost
			}
			cost = &c
		}
	}
	return tokens, cost
}

func maxTokens(a, b *model.TokenUsage) *model.TokenUsage {
	switch {
	case b == nil:
		return a
	case a == nil || b.Total() > a.Total():
		t := *b
		return &t
	default:
		return a
	}
}
