// Package stream 管理后端推送通道的生命周期。
//
//   - Transport/Conn: 一次订阅的建立与逐条读取 (SSE 或 WebSocket)
//   - Manager: 显式状态机 Disconnected → Connecting → Connected → Disconnected,
//     断开后按固定延迟重连, 事件同步交给 Sink
package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
)

// Conn is one open subscription.
type Conn interface {
	// Next blocks until the next event arrives. 任何返回的错误都表示连接已失效。
	Next(ctx context.Context) (model.RawEvent, error)
	Close() error
}

// Transport opens subscriptions.
type Transport interface {
	Name() string
	Connect(ctx context.Context) (Conn, error)
}

// decodeEnvelope parses a `{type, properties}` envelope.
// fallbackType 用于 SSE `event:` 字段 (data 中无 type 时)。
func decodeEnvelope(data []byte, fallbackType string) (model.RawEvent, error) {
	var ev model.RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.RawEvent{}, apperrors.Wrap(apperrors.ErrMalformedEvent, "stream.decodeEnvelope", err.Error())
	}
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		ev.Type = strings.TrimSpace(fallbackType)
	}
	if ev.Type == "" {
		return model.RawEvent{}, apperrors.Wrap(apperrors.ErrMalformedEvent, "stream.decodeEnvelope", "missing event type")
	}
	return ev, nil
}
