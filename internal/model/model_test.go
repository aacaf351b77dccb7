package model

import (
	"strings"
	"testing"
	"time"
)

func TestToolStatusRank(t *testing.T) {
	tests := []struct {
		status   ToolStatus
		rank     int
		terminal bool
	}{
		{ToolPending, 0, false},
		{ToolRunning, 1, false},
		{ToolCompleted, 2, true},
		{ToolError, 2, true},
		{ToolStatus("weird"), -1, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Rank(); got != tt.rank {
				t.Errorf("Rank() = %d, want %d", got, tt.rank)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestOptimisticID(t *testing.T) {
	id := NewOptimisticID()
	if !strings.HasPrefix(id, OptimisticPrefix) {
		t.Fatalf("id %q missing prefix", id)
	}
	if !IsOptimisticID(id) {
		t.Error("IsOptimisticID(new id) = false")
	}
	if IsOptimisticID("msg_123") {
		t.Error("IsOptimisticID(real id) = true")
	}
	if NewOptimisticID() == id {
		t.Error("optimistic ids must be unique")
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	result := "42"
	cost := 0.5
	src := Message{
		ID:           "m1",
		ContentParts: []ContentPart{{ID: "p1", Kind: ContentText, Text: "a"}},
		ToolCalls: map[string]*ToolCall{
			"c1": {ToolCallID: "c1", Result: &result, Metadata: map[string]any{"nested": map[string]any{"k": "v"}}},
		},
		Steps:   []Step{{ID: "s1", Tokens: &TokenUsage{Input: 1}}},
		Patches: []Patch{{ID: "pa", Files: []string{"a.go"}}},
		Tokens:  &TokenUsage{Output: 2},
		Cost:    &cost,
	}

	dst := src.Clone()
	dst.ContentParts[0].Text = "changed"
	dst.ToolCalls["c1"].Status = ToolCompleted
	*dst.ToolCalls["c1"].Result = "changed"
	dst.ToolCalls["c1"].Metadata["nested"].(map[string]any)["k"] = "changed"
	dst.Steps[0].Tokens.Input = 99
	dst.Patches[0].Files[0] = "b.go"
	dst.Tokens.Output = 99
	*dst.Cost = 9

	if src.ContentParts[0].Text != "a" {
		t.Error("content parts aliased")
	}
	if src.ToolCalls["c1"].Status != "" || *src.ToolCalls["c1"].Result != "42" {
		t.Error("tool call aliased")
	}
	if src.ToolCalls["c1"].Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Error("tool metadata aliased")
	}
	if src.Steps[0].Tokens.Input != 1 || src.Patches[0].Files[0] != "a.go" {
		t.Error("steps/patches aliased")
	}
	if src.Tokens.Output != 2 || *src.Cost != 0.5 {
		t.Error("totals aliased")
	}
}

func TestWireStatusConversion(t *testing.T) {
	retry := WireStatus{Type: "retry", Attempt: 2, Message: "rate limited", Next: 5000}.SessionStatus()
	if retry.Type != StatusRetry || retry.Retry == nil || retry.Retry.Attempt != 2 || retry.Retry.NextRetryAt != 5000 {
		t.Errorf("retry conversion = %+v", retry)
	}
	if got := (WireStatus{Type: "busy"}).SessionStatus(); got.Type != StatusBusy || got.Retry != nil {
		t.Errorf("busy conversion = %+v", got)
	}
	if got := (WireStatus{Type: "unknown"}).SessionStatus(); got.Type != StatusIdle {
		t.Errorf("unknown conversion = %+v", got)
	}
}

func TestSessionStatusNormalize(t *testing.T) {
	s := SessionStatus{Type: StatusBusy, Retry: &RetryInfo{Attempt: 1}}.Normalize()
	if s.Retry != nil {
		t.Error("busy must not carry retry info")
	}
	if got := (SessionStatus{Type: StatusRetry}).Normalize(); got.Retry == nil {
		t.Error("retry must carry retry info")
	}
	if got := (SessionStatus{}).Normalize(); got.Type != StatusIdle {
		t.Errorf("zero status normalizes to %q", got.Type)
	}
}

func TestRetryCountdown(t *testing.T) {
	now := time.UnixMilli(10_000)
	r := RetryInfo{NextRetryAt: 13_000}
	if got := r.Countdown(now); got != 3*time.Second {
		t.Errorf("Countdown = %v, want 3s", got)
	}
	if got := r.Countdown(time.UnixMilli(20_000)); got != 0 {
		t.Errorf("Countdown past = %v, want 0", got)
	}
}

func TestHandlerContextFind(t *testing.T) {
	opt := NewOptimisticID()
	hctx := HandlerContext{
		SessionID: "s1",
		Messages: []Message{
			{ID: "m0", Role: RoleAssistant, SessionID: "s1"},
			{ID: opt, Role: RoleUser, SessionID: "s1", Text: "T"},
		},
	}
	if _, ok := hctx.FindMessage("m0"); !ok {
		t.Error("FindMessage(m0) not found")
	}
	if hctx.HasMessage("missing") {
		t.Error("HasMessage(missing) = true")
	}
	got, ok := hctx.FindOptimistic("s1")
	if !ok || got.ID != opt {
		t.Errorf("FindOptimistic = %q, %v", got.ID, ok)
	}
	if _, ok := hctx.FindOptimistic("other"); ok {
		t.Error("FindOptimistic(other session) should not match")
	}
}

func TestActionKinds(t *testing.T) {
	actions := []Action{
		AddMessage{}, SetRunning{Running: false}, SetSessionStatus{Status: IdleStatus()},
	}
	got := Kinds(actions)
	want := []ActionKind{KindAddMessage, KindSetRunning, KindSetSessionStatus}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Kinds()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPermissionResponseValid(t *testing.T) {
	for _, r := range []PermissionResponse{PermissionOnce, PermissionAlways, PermissionReject} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if PermissionResponse("maybe").Valid() {
		t.Error("maybe should be invalid")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"string", `"boom"`, "boom"},
		{"structured", `{"name":"ProviderAuthError","data":{"message":"bad key"}}`, "bad key"},
		{"generic", `{"message":"generic"}`, "generic"},
		{"structured_wins", `{"data":{"message":"inner"},"message":"outer"}`, "inner"},
		{"name_only", `{"name":"MessageAbortedError"}`, "MessageAbortedError"},
		{"number", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage([]byte(tt.raw)); got != tt.want {
				t.Errorf("ErrorMessage(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
