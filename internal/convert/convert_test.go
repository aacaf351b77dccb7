package convert

import (
	"testing"

	"github.com/multi-agent/transcript-sync/internal/model"
)

func strPtr(s string) *string { return &s }

func TestFromSnapshotText(t *testing.T) {
	res, ok := FromSnapshot(model.Part{ID: "p1", MessageID: "m1", Type: "text", Text: strPtr("Hi")})
	if !ok {
		t.Fatal("text part not converted")
	}
	if res.Kind != model.ContentText || res.Text == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Text.HasFull || res.Text.Full != "Hi" || res.Text.Delta != "" {
		t.Errorf("snapshot text = %+v, want full replacement", res.Text)
	}
}

func TestFromDeltaPrefersDelta(t *testing.T) {
	tests := []struct {
		name     string
		text     *string
		delta    string
		wantText model.TextUpdate
	}{
		{"delta_with_full", strPtr("hello world"), " world", model.TextUpdate{Delta: " world", Full: "hello world", HasFull: true}},
		{"delta_only", nil, "abc", model.TextUpdate{Delta: "abc"}},
		{"full_only", strPtr("whole"), "", model.TextUpdate{Full: "whole", HasFull: true}},
		{"nothing", nil, "", model.TextUpdate{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := FromDelta(model.Part{ID: "p", Type: "text", Text: tt.text}, tt.delta)
			if !ok {
				t.Fatal("not converted")
			}
			if *res.Text != tt.wantText {
				t.Errorf("Text = %+v, want %+v", *res.Text, tt.wantText)
			}
		})
	}
}

func TestToolResultRule(t *testing.T) {
	tests := []struct {
		name       string
		state      *model.ToolState
		wantStatus model.ToolStatus
		wantResult *string
		wantError  string
	}{
		{"no_state", nil, model.ToolPending, nil, ""},
		{"pending", &model.ToolState{Status: "pending", Output: strPtr("ignored")}, model.ToolPending, nil, ""},
		{"running", &model.ToolState{Status: "running", Output: strPtr("partial")}, model.ToolRunning, nil, ""},
		{"completed", &model.ToolState{Status: "completed", Output: strPtr("42")}, model.ToolCompleted, strPtr("42"), ""},
		{"error", &model.ToolState{Status: "error", Error: strPtr("boom"), Output: strPtr("out")}, model.ToolError, strPtr("boom"), "boom"},
		{"error_fallback_output", &model.ToolState{Status: "error", Output: strPtr("out")}, model.ToolError, strPtr("out"), "out"},
		{"unknown_status", &model.ToolState{Status: "queued"}, model.ToolPending, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := FromDelta(model.Part{ID: "prt", Type: "tool", CallID: "call_1", Tool: "bash", State: tt.state}, "")
			if !ok || res.ToolCall == nil {
				t.Fatal("tool part not converted")
			}
			call := res.ToolCall
			if call.ToolCallID != "call_1" || call.ToolName != "bash" {
				t.Errorf("identity = %q/%q", call.ToolCallID, call.ToolName)
			}
			if call.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", call.Status, tt.wantStatus)
			}
			switch {
			case tt.wantResult == nil && call.Result != nil:
				t.Errorf("Result = %q, want nil", *call.Result)
			case tt.wantResult != nil && (call.Result == nil || *call.Result != *tt.wantResult):
				t.Errorf("Result = %v, want %q", call.Result, *tt.wantResult)
			}
			if call.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", call.Error, tt.wantError)
			}
		})
	}
}

func TestToolChildSession(t *testing.T) {
	state := &model.ToolState{
		Status:   "running",
		Input:    map[string]any{"description": "explore"},
		Metadata: map[string]any{"sessionId": "ses_child"},
	}
	res, ok := FromSnapshot(model.Part{ID: "prt", Type: "tool", Tool: "task", State: state})
	if !ok {
		t.Fatal("not converted")
	}
	if res.ToolCall.ToolCallID != "prt" {
		t.Errorf("ToolCallID fallback = %q, want part id", res.ToolCall.ToolCallID)
	}
	if res.ToolCall.ChildSessionID != "ses_child" {
		t.Errorf("ChildSessionID = %q", res.ToolCall.ChildSessionID)
	}
	if res.ToolCall.ArgsRaw != `{"description":"explore"}` {
		t.Errorf("ArgsRaw = %q", res.ToolCall.ArgsRaw)
	}
}

func TestStepParts(t *testing.T) {
	cost := 0.25
	tokens := &model.WireTokens{Input: 10, Output: 5}
	tokens.Cache.Read = 3

	start, ok := FromSnapshot(model.Part{ID: "step_1", Type: "step-start", Snapshot: "abc"})
	if !ok || start.Step == nil || start.Step.Phase != model.StepStart {
		t.Fatalf("step-start = %+v", start)
	}
	finish, ok := FromSnapshot(model.Part{ID: "step_1", Type: "step-finish", Reason: "stop", Tokens: tokens, Cost: &cost})
	if !ok || finish.Step == nil {
		t.Fatalf("step-finish = %+v", finish)
	}
	if finish.Step.ID != start.Step.ID || finish.Step.Phase != model.StepFinish {
		t.Errorf("finish step = %+v", finish.Step)
	}
	if finish.Step.Tokens == nil || finish.Step.Tokens.Input != 10 || finish.Step.Tokens.CacheRead != 3 {
		t.Errorf("tokens = %+v", finish.Step.Tokens)
	}
	if finish.Step.Cost != 0.25 {
		t.Errorf("cost = %v", finish.Step.Cost)
	}
	if finish.Kind != model.ContentStep || finish.RefID() != "step_1" {
		t.Errorf("kind/ref = %q/%q", finish.Kind, finish.RefID())
	}
}

func TestOtherKinds(t *testing.T) {
	tests := []struct {
		name  string
		part  model.Part
		check func(t *testing.T, res model.PartConversionResult)
	}{
		{"reasoning", model.Part{ID: "r1", Type: "reasoning", Text: strPtr("thinking")}, func(t *testing.T, res model.PartConversionResult) {
			if res.Reasoning == nil || res.Reasoning.Text.Full != "thinking" {
				t.Errorf("reasoning = %+v", res.Reasoning)
			}
		}},
		{"file", model.Part{ID: "f1", Type: "file", Mime: "image/png", Filename: "a.png", Source: &model.FileSource{Path: "/tmp/a.png"}}, func(t *testing.T, res model.PartConversionResult) {
			if res.File == nil || res.File.SourcePath != "/tmp/a.png" || res.File.Mime != "image/png" {
				t.Errorf("file = %+v", res.File)
			}
		}},
		{"patch", model.Part{ID: "pa", Type: "patch", Hash: "h", Files: []string{"x.go"}}, func(t *testing.T, res model.PartConversionResult) {
			if res.Patch == nil || res.Patch.Hash != "h" || len(res.Patch.Files) != 1 {
				t.Errorf("patch = %+v", res.Patch)
			}
		}},
		{"subtask", model.Part{ID: "st", Type: "subtask", Prompt: "p", Description: "d", Agent: "general"}, func(t *testing.T, res model.PartConversionResult) {
			if res.Subtask == nil || res.Subtask.Agent != "general" {
				t.Errorf("subtask = %+v", res.Subtask)
			}
		}},
		{"retry", model.Part{ID: "rt", Type: "retry", Attempt: 2, Error: []byte(`{"data":{"message":"overloaded"}}`)}, func(t *testing.T, res model.PartConversionResult) {
			if res.Retry == nil || res.Retry.Attempt != 2 || res.Retry.Message != "overloaded" {
				t.Errorf("retry = %+v", res.Retry)
			}
		}},
		{"agent", model.Part{ID: "ag", Type: "agent", Name: " build "}, func(t *testing.T, res model.PartConversionResult) {
			if res.Agent != "build" {
				t.Errorf("agent = %q", res.Agent)
			}
		}},
		{"compaction", model.Part{ID: "cp", Type: "compaction"}, func(t *testing.T, res model.PartConversionResult) {
			if !res.Compacted {
				t.Error("compaction not flagged")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := FromSnapshot(tt.part)
			if !ok {
				t.Fatal("not converted")
			}
			if res.PartID != tt.part.ID {
				t.Errorf("PartID = %q", res.PartID)
			}
			tt.check(t, res)
		})
	}
}

func TestUnknownAndSnapshotParts(t *testing.T) {
	for _, typ := range []string{"snapshot", "hologram", ""} {
		t.Run(typ, func(t *testing.T) {
			if _, ok := FromDelta(model.Part{ID: "x", Type: typ}, ""); ok {
				t.Errorf("part type %q should not convert", typ)
			}
		})
	}
}
