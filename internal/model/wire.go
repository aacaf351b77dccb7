package model

import (
	"encoding/json"
	"strings"
)

// RawEvent is the push-channel envelope `{type, properties}`.
type RawEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// 事件类型。
const (
	EventSessionCreated     = "session.created"
	EventSessionUpdated     = "session.updated"
	EventSessionStatus      = "session.status"
	EventSessionIdle        = "session.idle"
	EventSessionError       = "session.error"
	EventSessionDeleted     = "session.deleted"
	EventSessionCompacted   = "session.compacted"
	EventSessionDiff        = "session.diff"
	EventMessageUpdated     = "message.updated"
	EventMessageRemoved     = "message.removed"
	EventPartUpdated        = "message.part.updated"
	EventPartRemoved        = "message.part.removed"
	EventPermissionUpdated  = "permission.updated"
	EventPermissionReplied  = "permission.replied"
	EventFileEdited         = "file.edited"
	EventFileWatcherUpdated = "file.watcher.updated"
	EventServerConnected    = "server.connected"
)

// Part 类型 (wire)。
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartTool       = "tool"
	PartFile       = "file"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartPatch      = "patch"
	PartSubtask    = "subtask"
	PartRetry      = "retry"
	PartAgent      = "agent"
	PartCompaction = "compaction"
	PartSnapshot   = "snapshot"
)

// TimeRange is a wire start/end pair in unix ms.
type TimeRange struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// WireTokens is the backend token accounting shape.
type WireTokens struct {
	Input     int64 `json:"input"`
	Output    int64 `json:"output"`
	Reasoning int64 `json:"reasoning"`
	Cache     struct {
		Read  int64 `json:"read"`
		Write int64 `json:"write"`
	} `json:"cache"`
}

// Usage converts to TokenUsage.
func (t WireTokens) Usage() TokenUsage {
	return TokenUsage{
		Input:      t.Input,
		Output:     t.Output,
		Reasoning:  t.Reasoning,
		CacheRead:  t.Cache.Read,
		CacheWrite: t.Cache.Write,
	}
}

// ToolState is the `state` object of a tool part.
type ToolState struct {
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Raw         string         `json:"raw,omitempty"`
	Output      *string        `json:"output,omitempty"`
	Error       *string        `json:"error,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Time        TimeRange      `json:"time,omitempty"`
	Attachments []Part         `json:"attachments,omitempty"`
}

// Part is one wire-format message part. 字段按 type 取用。
type Part struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type"`

	// text / reasoning
	Text      *string   `json:"text,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Time      TimeRange `json:"time,omitempty"`

	// tool
	CallID string     `json:"callID,omitempty"`
	Tool   string     `json:"tool,omitempty"`
	State  *ToolState `json:"state,omitempty"`

	// file
	Mime     string      `json:"mime,omitempty"`
	Filename string      `json:"filename,omitempty"`
	URL      string      `json:"url,omitempty"`
	Source   *FileSource `json:"source,omitempty"`

	// step-start / step-finish
	Reason   string      `json:"reason,omitempty"`
	Snapshot string      `json:"snapshot,omitempty"`
	Tokens   *WireTokens `json:"tokens,omitempty"`
	Cost     *float64    `json:"cost,omitempty"`

	// patch
	Hash  string   `json:"hash,omitempty"`
	Files []string `json:"files,omitempty"`

	// subtask
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	Agent       string `json:"agent,omitempty"`

	// agent
	Name string `json:"name,omitempty"`

	// retry
	Attempt int             `json:"attempt,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`

	// compaction
	Auto bool `json:"auto,omitempty"`
}

// TextValue returns the text field or "".
func (p Part) TextValue() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

// FileSource is the origin of a file part.
type FileSource struct {
	Type string `json:"type,omitempty"`
	Path string `json:"path,omitempty"`
}

// MessageTime is created/completed in unix ms.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// MessageInfo is the `info` of message.updated and history entries.
type MessageInfo struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionID"`
	Role       Role            `json:"role"`
	Time       MessageTime     `json:"time"`
	ModelID    string          `json:"modelID,omitempty"`
	ProviderID string          `json:"providerID,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	Agent      string          `json:"agent,omitempty"`
	Cost       *float64        `json:"cost,omitempty"`
	Tokens     *WireTokens     `json:"tokens,omitempty"`
	ParentID   string          `json:"parentID,omitempty"`
	Summary    bool            `json:"summary,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// HistoryEntry is one element of the history load response.
type HistoryEntry struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// WireStatus is the session status payload `{type, attempt, message, next}`.
type WireStatus struct {
	Type    string `json:"type"`
	Attempt int    `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
	Next    int64  `json:"next,omitempty"`
}

// SessionStatus converts the wire payload. Unknown types map to idle.
func (w WireStatus) SessionStatus() SessionStatus {
	switch StatusType(strings.ToLower(w.Type)) {
	case StatusBusy:
		return BusyStatus()
	case StatusRetry:
		return SessionStatus{Type: StatusRetry, Retry: &RetryInfo{
			Attempt:     w.Attempt,
			Message:     w.Message,
			NextRetryAt: w.Next,
		}}
	default:
		return IdleStatus()
	}
}

// SessionTime is created/updated in unix ms.
type SessionTime struct {
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
}

// SessionInfo is the `info` of session.* events.
type SessionInfo struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectID,omitempty"`
	ParentID  string      `json:"parentID,omitempty"`
	Title     string      `json:"title,omitempty"`
	Directory string      `json:"directory,omitempty"`
	Version   string      `json:"version,omitempty"`
	Time      SessionTime `json:"time,omitempty"`
	Status    *WireStatus `json:"status,omitempty"`
}

// ErrorMessage extracts a human-readable message from a wire error value.
//
// 优先级: 字符串 → {name, data:{message}} → {message} → name。无法提取返回 ""。
func ErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var structured struct {
		Name string `json:"name"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(structured.Data.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(structured.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(structured.Name)
}
