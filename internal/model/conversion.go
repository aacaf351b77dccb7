package model

// TextUpdate is a text change carried by a part.
//
// Delta 非空时追加; HasFull 时 Full 为该 part 的完整文本, 用于识别重复投递与重新同步。
type TextUpdate struct {
	Delta   string
	Full    string
	HasFull bool
}

// FullText returns a replacement-only update.
func FullText(s string) *TextUpdate { return &TextUpdate{Full: s, HasFull: true} }

// ReasoningUpdate is a reasoning change keyed by reasoning id.
type ReasoningUpdate struct {
	ID        string
	Text      TextUpdate
	StartedAt int64
	EndedAt   int64
}

// StepRecord is one phase of a step; start and finish share ID.
type StepRecord struct {
	ID       string
	Phase    StepPhase
	Reason   string
	Snapshot string
	Tokens   *TokenUsage
	Cost     float64
}

// PartConversionResult is the normalized delta of one wire part.
// Only the fields relevant to Kind are set.
type PartConversionResult struct {
	PartID    string
	MessageID string
	SessionID string
	Kind      ContentKind

	Text      *TextUpdate
	Reasoning *ReasoningUpdate
	ToolCall  *ToolCall
	File      *FileAttachment
	Step      *StepRecord
	Patch     *Patch
	Subtask   *Subtask
	Retry     *Retry
	Agent     string
	Compacted bool
}

// RefID returns the id of the record the part points at.
func (r PartConversionResult) RefID() string {
	switch {
	case r.ToolCall != nil:
		return r.ToolCall.ToolCallID
	case r.Step != nil:
		return r.Step.ID
	case r.Reasoning != nil:
		return r.Reasoning.ID
	case r.File != nil:
		return r.File.ID
	case r.Patch != nil:
		return r.Patch.ID
	case r.Subtask != nil:
		return r.Subtask.ID
	case r.Retry != nil:
		return r.Retry.ID
	}
	return ""
}
