package stream

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// DefaultRecorderSize 默认保留的最近事件数。
const DefaultRecorderSize = 200

// RecordedEvent is one received event with its arrival time.
type RecordedEvent struct {
	At    time.Time      `json:"at"`
	Event model.RawEvent `json:"event"`
}

// Recorder 保留最近 N 个原始事件, 可选地以 JSONL 追加到 w (synctl replay 可直接读取)。
type Recorder struct {
	mu    sync.Mutex
	data  []RecordedEvent
	limit int
	w     io.Writer
	now   func() time.Time
}

// NewRecorder creates a recorder holding up to size events. w may be nil.
func NewRecorder(size int, w io.Writer) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{
		data:  make([]RecordedEvent, 0, size),
		limit: size,
		w:     w,
		now:   time.Now,
	}
}

// Record 追加事件, 超出容量则丢弃最旧的 (复用底层数组)。
func (r *Recorder) Record(ev model.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = append(r.data, RecordedEvent{At: r.now(), Event: ev})
	if len(r.data) > r.limit {
		n := copy(r.data, r.data[len(r.data)-r.limit:])
		r.data = r.data[:n]
	}
	if r.w == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("stream: record event failed", logger.FieldEventType, ev.Type, logger.FieldError, err)
		return
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		logger.Warn("stream: write event log failed", logger.FieldError, err)
	}
}

// Wrap returns a sink that records each event before passing it on.
func (r *Recorder) Wrap(next Sink) Sink {
	return func(ev model.RawEvent) {
		r.Record(ev)
		if next != nil {
			next(ev)
		}
	}
}

// Recent returns up to limit of the newest events, oldest first.
// limit <= 0 返回全部。
func (r *Recorder) Recent(limit int) []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.data
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]RecordedEvent, len(src))
	copy(out, src)
	return out
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}
