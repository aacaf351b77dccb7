package merge

import (
	"reflect"
	"testing"
	"time"

	"github.com/multi-agent/transcript-sync/internal/convert"
	"github.com/multi-agent/transcript-sync/internal/model"
)

func strPtr(s string) *string { return &s }

func mustDelta(t *testing.T, part model.Part, delta string) model.PartConversionResult {
	t.Helper()
	res, ok := convert.FromDelta(part, delta)
	if !ok {
		t.Fatalf("part %+v not converted", part)
	}
	return res
}

func placeholder() model.Message {
	return NewPlaceholder("m1", "s1", "", time.UnixMilli(1000))
}

func TestNewPlaceholderDefaultsToAssistant(t *testing.T) {
	m := placeholder()
	if m.Role != model.RoleAssistant || m.ID != "m1" || m.SessionID != "s1" || m.CreatedAt != 1000 {
		t.Errorf("placeholder = %+v", m)
	}
}

func TestApplyTextDeltas(t *testing.T) {
	tests := []struct {
		name   string
		events []struct {
			text  *string
			delta string
		}
		want string
	}{
		{
			name: "append_deltas",
			events: []struct {
				text  *string
				delta string
			}{{strPtr("Hel"), "Hel"}, {strPtr("Hello"), "lo"}},
			want: "Hello",
		},
		{
			name: "duplicate_delta_ignored",
			events: []struct {
				text  *string
				delta string
			}{{strPtr("Hel"), "Hel"}, {strPtr("Hello"), "lo"}, {strPtr("Hello"), "lo"}},
			want: "Hello",
		},
		{
			name: "missed_delta_resyncs_to_full",
			events: []struct {
				text  *string
				delta string
			}{{strPtr("a"), "a"}, {strPtr("abc"), "c"}},
			want: "abc",
		},
		{
			name: "stale_snapshot_does_not_shrink",
			events: []struct {
				text  *string
				delta string
			}{{strPtr("hello world"), ""}, {strPtr("hello"), ""}},
			want: "hello world",
		},
		{
			name: "bare_deltas_append",
			events: []struct {
				text  *string
				delta string
			}{{nil, "foo"}, {nil, "bar"}},
			want: "foobar",
		},
		{
			name: "bare_delta_redelivered",
			events: []struct {
				text  *string
				delta string
			}{{nil, "abc"}, {nil, "abc"}},
			want: "abc",
		},
		{
			name: "bare_delta_repeats_after_other_chunk",
			events: []struct {
				text  *string
				delta string
			}{{nil, "ab"}, {nil, "c"}, {nil, "ab"}},
			want: "abcab",
		},
		{
			name: "full_resets_last_delta",
			events: []struct {
				text  *string
				delta string
			}{{nil, "ab"}, {strPtr("abx"), ""}, {nil, "ab"}},
			want: "abxab",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := placeholder()
			for _, ev := range tt.events {
				msg = Apply(msg, mustDelta(t, model.Part{ID: "p1", Type: "text", Text: ev.text}, ev.delta))
			}
			if msg.Text != tt.want {
				t.Errorf("Text = %q, want %q", msg.Text, tt.want)
			}
			if len(msg.ContentParts) != 1 {
				t.Errorf("ContentParts = %d, want 1", len(msg.ContentParts))
			}
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	msg := Apply(placeholder(), mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("a")}, ""))
	before := msg.Clone()
	_ = Apply(msg, mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("abc")}, ""))
	_ = Apply(msg, mustDelta(t, model.Part{ID: "c", Type: "tool", CallID: "c", State: &model.ToolState{Status: "running"}}, ""))
	if !reflect.DeepEqual(msg, before) {
		t.Error("Apply mutated its input")
	}
}

func TestApplyIdempotent(t *testing.T) {
	cost := 0.1
	events := []model.Part{
		{ID: "p1", Type: "text", Text: strPtr("answer")},
		{ID: "r1", Type: "reasoning", Text: strPtr("think")},
		{ID: "t1", Type: "tool", CallID: "call_1", Tool: "bash", State: &model.ToolState{Status: "completed", Output: strPtr("ok")}},
		{ID: "f1", Type: "file", Filename: "a.txt"},
		{ID: "s1", Type: "step-finish", Tokens: &model.WireTokens{Input: 5, Output: 7}, Cost: &cost},
		{ID: "pa", Type: "patch", Hash: "h", Files: []string{"a.go"}},
		{ID: "st", Type: "subtask", Prompt: "go"},
		{ID: "rt", Type: "retry", Attempt: 1},
	}
	for _, part := range events {
		t.Run(part.Type, func(t *testing.T) {
			res := mustDelta(t, part, "")
			once := Apply(placeholder(), res)
			twice := Apply(once, res)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("applying %s twice differs:\nonce  %+v\ntwice %+v", part.Type, once, twice)
			}
		})
	}
}

func TestApplyDeltaOnlyRedelivery(t *testing.T) {
	tests := []struct {
		name string
		part model.Part
		text func(model.Message) string
	}{
		{"text", model.Part{ID: "p1", Type: "text"}, func(m model.Message) string { return m.Text }},
		{"reasoning", model.Part{ID: "r1", Type: "reasoning"}, func(m model.Message) string {
			if len(m.Reasoning) != 1 {
				return ""
			}
			return m.Reasoning[0].Text
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustDelta(t, tt.part, "abc")
			once := Apply(placeholder(), res)
			twice := Apply(once, res)
			if got := tt.text(twice); got != "abc" {
				t.Errorf("text after redelivery = %q, want %q", got, "abc")
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("redelivered delta changed message:\nonce  %+v\ntwice %+v", once, twice)
			}
		})
	}
}

func TestStepAccountingOncePerStep(t *testing.T) {
	cost := 0.5
	finish := mustDelta(t, model.Part{ID: "step_1", Type: "step-finish", Tokens: &model.WireTokens{Input: 10, Output: 4}, Cost: &cost}, "")
	start := mustDelta(t, model.Part{ID: "step_1", Type: "step-start"}, "")

	msg := Apply(placeholder(), start)
	msg = Apply(msg, finish)
	msg = Apply(msg, finish) // redelivery
	msg = Apply(msg, start)  // late start must not reopen the step

	if len(msg.Steps) != 1 {
		t.Fatalf("Steps = %d, want 1", len(msg.Steps))
	}
	if msg.Steps[0].Phase != model.StepFinish || !msg.Steps[0].Accounted {
		t.Errorf("step = %+v", msg.Steps[0])
	}
	if msg.Tokens == nil || msg.Tokens.Input != 10 || msg.Tokens.Output != 4 {
		t.Errorf("Tokens = %+v, want input 10 output 4", msg.Tokens)
	}
	if msg.Cost == nil || *msg.Cost != 0.5 {
		t.Errorf("Cost = %v, want 0.5", msg.Cost)
	}

	second := mustDelta(t, model.Part{ID: "step_2", Type: "step-finish", Tokens: &model.WireTokens{Input: 1}, Cost: &cost}, "")
	msg = Apply(msg, second)
	if msg.Tokens.Input != 11 || *msg.Cost != 1.0 {
		t.Errorf("after second step tokens=%+v cost=%v", msg.Tokens, *msg.Cost)
	}
}

func TestToolStatusNeverRegresses(t *testing.T) {
	tool := func(status string, output *string) model.PartConversionResult {
		return mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", Tool: "bash", State: &model.ToolState{Status: status, Output: output, Title: status}}, "")
	}
	msg := Apply(placeholder(), tool("pending", nil))
	msg = Apply(msg, tool("completed", strPtr("42")))
	msg = Apply(msg, tool("running", nil))
	msg = Apply(msg, tool("pending", nil))

	call := msg.ToolCalls["c1"]
	if call.Status != model.ToolCompleted {
		t.Errorf("Status = %q, want completed", call.Status)
	}
	if call.Result == nil || *call.Result != "42" {
		t.Errorf("Result = %v, want 42", call.Result)
	}
	if call.Title != "completed" {
		t.Errorf("Title = %q, stale event overwrote it", call.Title)
	}

	errored := Apply(msg, mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", State: &model.ToolState{Status: "error", Error: strPtr("late")}}, ""))
	if errored.ToolCalls["c1"].Status != model.ToolCompleted {
		t.Error("terminal status must be sticky")
	}
}

func TestMergeToolCallForwardFields(t *testing.T) {
	prev := &model.ToolCall{ToolCallID: "c1", ToolName: "task", Status: model.ToolPending}
	next := model.ToolCall{ToolCallID: "c1", Status: model.ToolRunning, Title: "Explore", ChildSessionID: "ses_child", Args: map[string]any{"x": 1}}
	got := MergeToolCall(prev, next)
	if got.ToolName != "task" || got.Status != model.ToolRunning || got.Title != "Explore" || got.ChildSessionID != "ses_child" {
		t.Errorf("merged = %+v", got)
	}
	if prev.Status != model.ToolPending {
		t.Error("MergeToolCall mutated prev")
	}
}

func TestContentPartOrderStable(t *testing.T) {
	msg := placeholder()
	msg = Apply(msg, mustDelta(t, model.Part{ID: "a", Type: "text", Text: strPtr("x")}, ""))
	msg = Apply(msg, mustDelta(t, model.Part{ID: "t", Type: "tool", CallID: "c"}, ""))
	msg = Apply(msg, mustDelta(t, model.Part{ID: "a", Type: "text", Text: strPtr("xy")}, ""))
	if len(msg.ContentParts) != 2 {
		t.Fatalf("ContentParts = %d", len(msg.ContentParts))
	}
	if msg.ContentParts[0].ID != "a" || msg.ContentParts[0].Order != 1 || msg.ContentParts[1].Order != 2 {
		t.Errorf("order = %+v", msg.ContentParts)
	}
	if msg.PartOrderCounter != 2 {
		t.Errorf("PartOrderCounter = %d", msg.PartOrderCounter)
	}
	if msg.ContentParts[1].RefID != "c" {
		t.Errorf("tool RefID = %q", msg.ContentParts[1].RefID)
	}
}

func TestOrderInsensitiveConvergence(t *testing.T) {
	cost := 0.2
	parts := []model.PartConversionResult{
		mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("final answer")}, ""),
		mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", State: &model.ToolState{Status: "running"}}, ""),
		mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", State: &model.ToolState{Status: "completed", Output: strPtr("done")}}, ""),
		mustDelta(t, model.Part{ID: "s1", Type: "step-start"}, ""),
		mustDelta(t, model.Part{ID: "s1", Type: "step-finish", Tokens: &model.WireTokens{Output: 3}, Cost: &cost}, ""),
		mustDelta(t, model.Part{ID: "f1", Type: "file", Filename: "a.png"}, ""),
	}
	permutations := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 0, 5, 3, 1, 4},
		{3, 2, 4, 1, 5, 0},
	}

	var want model.Message
	for i, perm := range permutations {
		msg := placeholder()
		for _, idx := range perm {
			msg = Apply(msg, parts[idx])
		}
		if i == 0 {
			want = msg
			continue
		}
		if msg.Text != want.Text {
			t.Errorf("perm %v Text = %q, want %q", perm, msg.Text, want.Text)
		}
		if !reflect.DeepEqual(msg.ToolCalls, want.ToolCalls) {
			t.Errorf("perm %v ToolCalls differ", perm)
		}
		if !reflect.DeepEqual(msg.Tokens, want.Tokens) || *msg.Cost != *want.Cost {
			t.Errorf("perm %v totals differ", perm)
		}
		if len(msg.Steps) != 1 || len(msg.Files) != 1 || len(msg.ContentParts) != len(want.ContentParts) {
			t.Errorf("perm %v list sizes differ", perm)
		}
	}
}

func TestOptimisticTextNotShortened(t *testing.T) {
	msg := model.Message{ID: "real-1", Role: model.RoleUser, SessionID: "s1", Text: "Hello there"}
	msg = Apply(msg, mustDelta(t, model.Part{ID: "p1", Type: "text"}, "Hel"))
	if msg.Text != "Hello there" {
		t.Errorf("Text = %q, optimistic text was shortened", msg.Text)
	}
	msg = Apply(msg, mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("Hello there!")}, ""))
	if msg.Text != "Hello there!" {
		t.Errorf("Text = %q, want longer backend text", msg.Text)
	}
}

func TestRemovePart(t *testing.T) {
	msg := placeholder()
	msg = Apply(msg, mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("hi")}, ""))
	msg = Apply(msg, mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1"}, ""))
	msg = Apply(msg, mustDelta(t, model.Part{ID: "r1", Type: "reasoning", Text: strPtr("hmm")}, ""))

	got := RemovePart(msg, "p1")
	if got.Text != "" {
		t.Errorf("Text = %q, want cleared", got.Text)
	}
	if len(got.ContentParts) != 2 {
		t.Errorf("ContentParts = %d, want 2", len(got.ContentParts))
	}
	got = RemovePart(got, "t1")
	if _, ok := got.ToolCalls["c1"]; ok {
		t.Error("tool call not removed")
	}
	got = RemovePart(got, "r1")
	if len(got.Reasoning) != 0 {
		t.Error("reasoning not removed")
	}
	same := RemovePart(got, "missing")
	if !reflect.DeepEqual(same, got) {
		t.Error("removing an unknown part changed the message")
	}
	if msg.Text != "hi" {
		t.Error("RemovePart mutated its input")
	}
}

func TestMessagesUnion(t *testing.T) {
	existing := Apply(placeholder(), mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("hello world")}, ""))
	existing = Apply(existing, mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", State: &model.ToolState{Status: "completed", Output: strPtr("ok")}}, ""))
	existing.CreatedAt = 2000

	incoming := NewPlaceholder("m1", "s1", model.RoleAssistant, time.UnixMilli(1500))
	incoming.Agent = "build"
	incoming = Apply(incoming, mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("hello")}, ""))
	incoming = Apply(incoming, mustDelta(t, model.Part{ID: "t1", Type: "tool", CallID: "c1", State: &model.ToolState{Status: "running"}}, ""))
	incoming = Apply(incoming, mustDelta(t, model.Part{ID: "f1", Type: "file", Filename: "x"}, ""))

	got := Messages(existing, incoming)
	if got.Text != "hello world" {
		t.Errorf("Text = %q, want longer text kept (not concatenated)", got.Text)
	}
	if got.ToolCalls["c1"].Status != model.ToolCompleted {
		t.Errorf("tool status regressed to %q", got.ToolCalls["c1"].Status)
	}
	if len(got.Files) != 1 || len(got.ContentParts) != 3 {
		t.Errorf("files=%d parts=%d", len(got.Files), len(got.ContentParts))
	}
	if got.CreatedAt != 1500 {
		t.Errorf("CreatedAt = %d, want earliest 1500", got.CreatedAt)
	}
	if got.Agent != "build" {
		t.Errorf("Agent = %q", got.Agent)
	}
	if got.PartOrderCounter < 3 {
		t.Errorf("PartOrderCounter = %d", got.PartOrderCounter)
	}
	again := Messages(got, incoming)
	if again.Text != got.Text || len(again.ContentParts) != len(got.ContentParts) || len(again.Files) != 1 {
		t.Error("Messages is not idempotent")
	}
}

func TestMessagesSumsDisjointSteps(t *testing.T) {
	costA, costB := 0.25, 0.5
	a := Apply(placeholder(), mustDelta(t, model.Part{ID: "s1", Type: "step-finish", Tokens: &model.WireTokens{Output: 3}, Cost: &costA}, ""))
	b := Apply(placeholder(), mustDelta(t, model.Part{ID: "s2", Type: "step-finish", Tokens: &model.WireTokens{Output: 5}, Cost: &costB}, ""))

	got := Messages(a, b)
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	if got.Tokens == nil || got.Tokens.Output != 8 {
		t.Errorf("Tokens = %+v, want output 8", got.Tokens)
	}
	if got.Cost == nil || *got.Cost != 0.75 {
		t.Errorf("Cost = %v, want 0.75", got.Cost)
	}

	// 同一 step 两侧都已累计: 不重复相加
	again := Messages(got, a)
	if again.Tokens.Output != 8 || *again.Cost != 0.75 {
		t.Errorf("re-merge totals = %+v / %v", again.Tokens, *again.Cost)
	}

	// info 总量更大时保留
	infoCost := 2.0
	withInfo := ApplyInfo(a, model.MessageInfo{Tokens: &model.WireTokens{Output: 100}, Cost: &infoCost})
	merged := Messages(withInfo, b)
	if merged.Tokens.Output != 100 || *merged.Cost != 2.0 {
		t.Errorf("info totals lost: %+v / %v", merged.Tokens, *merged.Cost)
	}
}

func TestApplyInfo(t *testing.T) {
	cost := 1.5
	tokens := &model.WireTokens{Input: 100, Output: 50}
	msg := Apply(placeholder(), mustDelta(t, model.Part{ID: "p1", Type: "text", Text: strPtr("keep")}, ""))
	got := ApplyInfo(msg, model.MessageInfo{
		ID:      "m1",
		Role:    model.RoleAssistant,
		ModelID: "claude",
		Time:    model.MessageTime{Created: 900, Completed: 3000},
		Tokens:  tokens,
		Cost:    &cost,
		Error:   []byte(`{"name":"X","data":{"message":"aborted"}}`),
	})
	if got.Text != "keep" || len(got.ContentParts) != 1 {
		t.Error("ApplyInfo changed content")
	}
	if got.ModelID != "claude" || got.CompletedAt != 3000 || got.CreatedAt != 900 || got.Error != "aborted" {
		t.Errorf("metadata = %+v", got)
	}
	if got.Tokens.Input != 100 || *got.Cost != 1.5 {
		t.Errorf("totals = %+v %v", got.Tokens, *got.Cost)
	}
}
