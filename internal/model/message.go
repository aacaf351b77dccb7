// Package model 定义转录同步引擎的实体类型。
//
// Message / ToolCall / PermissionRequest / SessionStatus 是 Applier 持有的权威状态;
// Action 是 handler 影响状态的唯一通道。
package model

import (
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the lifecycle status of a tool call.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Rank orders statuses for forward-only transitions: pending < running < terminal.
// Unknown statuses rank below pending so they never overwrite a known one.
func (s ToolStatus) Rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolRunning:
		return 1
	case ToolCompleted, ToolError:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports completed or error.
func (s ToolStatus) IsTerminal() bool { return s == ToolCompleted || s == ToolError }

// ContentKind 标记 ContentPart 对应的记录类型。
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentReasoning ContentKind = "reasoning"
	ContentTool      ContentKind = "tool"
	ContentFile      ContentKind = "file"
	ContentStep      ContentKind = "step"
	ContentPatch     ContentKind = "patch"
	ContentSubtask   ContentKind = "subtask"
	ContentRetry     ContentKind = "retry"
	ContentAgent     ContentKind = "agent"
	ContentCompact   ContentKind = "compaction"
)

// ContentPart records one part's arrival position within a message.
//
// Order 取自 Message.PartOrderCounter, 同一 part id 重复投递保持原位置。
// RefID 指向具体记录 (tool call id / step id / reasoning id ...)。
type ContentPart struct {
	ID    string      `json:"id"`
	Kind  ContentKind `json:"kind"`
	Order int         `json:"order"`
	Text  string      `json:"text,omitempty"`
	RefID string      `json:"refId,omitempty"`

	// LastDelta 最近一次追加的 delta, 用于识别重复投递。
	LastDelta string `json:"-"`
}

// ToolCall is one tool invocation keyed by its call id.
type ToolCall struct {
	ToolCallID     string           `json:"toolCallId"`
	ToolName       string           `json:"toolName"`
	Args           map[string]any   `json:"args,omitempty"`
	ArgsRaw        string           `json:"argsRaw,omitempty"`
	Result         *string          `json:"result,omitempty"`
	Status         ToolStatus       `json:"status"`
	Error          string           `json:"error,omitempty"`
	Title          string           `json:"title,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	StartedAt      int64            `json:"startedAt,omitempty"`
	EndedAt        int64            `json:"endedAt,omitempty"`
	Attachments    []FileAttachment `json:"attachments,omitempty"`
	ChildSessionID string           `json:"childSessionId,omitempty"`
}

// Reasoning is one reasoning trace.
type Reasoning struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	StartedAt int64  `json:"startedAt,omitempty"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	LastDelta string `json:"-"`
}

// FileAttachment is a file part or a tool output attachment.
type FileAttachment struct {
	ID         string `json:"id"`
	Mime       string `json:"mime,omitempty"`
	Filename   string `json:"filename,omitempty"`
	URL        string `json:"url,omitempty"`
	SourcePath string `json:"sourcePath,omitempty"`
}

// StepPhase is start or finish.
type StepPhase string

const (
	StepStart  StepPhase = "start"
	StepFinish StepPhase = "finish"
)

// Step is the single authoritative record for one step id.
// Accounted 为 true 表示该 step 的 tokens/cost 已计入 Message 总量。
type Step struct {
	ID        string      `json:"id"`
	Phase     StepPhase   `json:"phase"`
	Reason    string      `json:"reason,omitempty"`
	Snapshot  string      `json:"snapshot,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
	Cost      float64     `json:"cost,omitempty"`
	Accounted bool        `json:"accounted,omitempty"`
}

// Patch is a set of files changed by a step.
type Patch struct {
	ID    string   `json:"id"`
	Hash  string   `json:"hash,omitempty"`
	Files []string `json:"files,omitempty"`
}

// Subtask is a delegated task prompt.
type Subtask struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent,omitempty"`
}

// Retry records one backend retry attempt.
type Retry struct {
	ID        string `json:"id"`
	Attempt   int    `json:"attempt"`
	Message   string `json:"message,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// TokenUsage 累计 token 计数。
type TokenUsage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	Reasoning  int64 `json:"reasoning"`
	CacheRead  int64 `json:"cacheRead"`
	CacheWrite int64 `json:"cacheWrite"`
}

// Add returns the element-wise sum.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		Reasoning:  u.Reasoning + o.Reasoning,
		CacheRead:  u.CacheRead + o.CacheRead,
		CacheWrite: u.CacheWrite + o.CacheWrite,
	}
}

// Total input + output + reasoning.
func (u TokenUsage) Total() int64 { return u.Input + u.Output + u.Reasoning }

// Message is one logical turn entry.
type Message struct {
	ID               string               `json:"id"`
	Role             Role                 `json:"role"`
	SessionID        string               `json:"sessionId"`
	Text             string               `json:"text"`
	ContentParts     []ContentPart        `json:"contentParts,omitempty"`
	ToolCalls        map[string]*ToolCall `json:"toolCalls,omitempty"`
	Reasoning        []Reasoning          `json:"reasoning,omitempty"`
	Files            []FileAttachment     `json:"files,omitempty"`
	Steps            []Step               `json:"steps,omitempty"`
	Patches          []Patch              `json:"patches,omitempty"`
	Subtasks         []Subtask            `json:"subtasks,omitempty"`
	Retries          []Retry              `json:"retries,omitempty"`
	Tokens           *TokenUsage          `json:"tokens,omitempty"`
	Cost             *float64             `json:"cost,omitempty"`
	Agent            string               `json:"agent,omitempty"`
	Mode             string               `json:"mode,omitempty"`
	ModelID          string               `json:"modelId,omitempty"`
	ProviderID       string               `json:"providerId,omitempty"`
	ParentID         string               `json:"parentId,omitempty"`
	IsCompacted      bool                 `json:"isCompacted,omitempty"`
	CreatedAt        int64                `json:"createdAt"`
	CompletedAt      int64                `json:"completedAt,omitempty"`
	Error            string               `json:"error,omitempty"`
	PartOrderCounter int                  `json:"partOrderCounter"`
}

// IsOptimistic reports whether the message still carries a locally generated id.
func (m Message) IsOptimistic() bool { return IsOptimisticID(m.ID) }

// Clone 深拷贝所有可变容器, 返回值与原值不共享任何 slice/map/指针。
func (m Message) Clone() Message {
	out := m
	out.ContentParts = append([]ContentPart(nil), m.ContentParts...)
	out.Reasoning = append([]Reasoning(nil), m.Reasoning...)
	out.Files = append([]FileAttachment(nil), m.Files...)
	out.Subtasks = append([]Subtask(nil), m.Subtasks...)
	out.Retries = append([]Retry(nil), m.Retries...)
	if m.Steps != nil {
		out.Steps = make([]Step, len(m.Steps))
		for i, step := range m.Steps {
			out.Steps[i] = step
			if step.Tokens != nil {
				t := *step.Tokens
				out.Steps[i].Tokens = &t
			}
		}
	}
	if m.Patches != nil {
		out.Patches = make([]Patch, len(m.Patches))
		for i, p := range m.Patches {
			out.Patches[i] = p
			out.Patches[i].Files = append([]string(nil), p.Files...)
		}
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make(map[string]*ToolCall, len(m.ToolCalls))
		for id, call := range m.ToolCalls {
			if call == nil {
				continue
			}
			c := call.Clone()
			out.ToolCalls[id] = &c
		}
	}
	if m.Tokens != nil {
		t := *m.Tokens
		out.Tokens = &t
	}
	if m.Cost != nil {
		c := *m.Cost
		out.Cost = &c
	}
	return out
}

// Clone 深拷贝 ToolCall。
func (c ToolCall) Clone() ToolCall {
	out := c
	out.Args = copyMap(c.Args)
	out.Metadata = copyMap(c.Metadata)
	out.Attachments = append([]FileAttachment(nil), c.Attachments...)
	if c.Result != nil {
		r := *c.Result
		out.Result = &r
	}
	return out
}

// copyMap copies nested maps and slices so the copy can be mutated freely.
func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// PermissionRequest is one pending human approval.
type PermissionRequest struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Pattern      []string       `json:"pattern,omitempty"`
	SessionID    string         `json:"sessionId"`
	MessageID    string         `json:"messageId,omitempty"`
	CallID       string         `json:"callId,omitempty"`
	Title        string         `json:"title,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Time         int64          `json:"time,omitempty"`
	IsResponding bool           `json:"isResponding"`
}

// PermissionResponse is the user's answer to a permission request.
type PermissionResponse string

const (
	PermissionOnce   PermissionResponse = "once"
	PermissionAlways PermissionResponse = "always"
	PermissionReject PermissionResponse = "reject"
)

// Valid reports whether r is one of once/always/reject.
func (r PermissionResponse) Valid() bool {
	switch r {
	case PermissionOnce, PermissionAlways, PermissionReject:
		return true
	}
	return false
}

// StatusType is the session status machine state.
type StatusType string

const (
	StatusIdle  StatusType = "idle"
	StatusBusy  StatusType = "busy"
	StatusRetry StatusType = "retry"
)

// RetryInfo is present only while the session is retrying.
type RetryInfo struct {
	Attempt     int    `json:"attempt"`
	Message     string `json:"message,omitempty"`
	NextRetryAt int64  `json:"nextRetryAt"` // unix ms
}

// Countdown returns the time left until the next retry, never negative.
func (r RetryInfo) Countdown(now time.Time) time.Duration {
	left := time.UnixMilli(r.NextRetryAt).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// SessionStatus is idle, busy or retry(RetryInfo).
type SessionStatus struct {
	Type  StatusType `json:"type"`
	Retry *RetryInfo `json:"retry,omitempty"`
}

// IdleStatus returns the idle status.
func IdleStatus() SessionStatus { return SessionStatus{Type: StatusIdle} }

// BusyStatus returns the busy status.
func BusyStatus() SessionStatus { return SessionStatus{Type: StatusBusy} }

// Working reports busy or retry.
func (s SessionStatus) Working() bool { return s.Type == StatusBusy || s.Type == StatusRetry }

// Normalize drops retry info outside the retry state and maps unknown types to idle.
func (s SessionStatus) Normalize() SessionStatus {
	switch s.Type {
	case StatusRetry:
		if s.Retry == nil {
			s.Retry = &RetryInfo{}
		}
		return s
	case StatusBusy:
		return SessionStatus{Type: StatusBusy}
	default:
		return IdleStatus()
	}
}
