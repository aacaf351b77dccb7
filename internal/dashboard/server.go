// Package dashboard 提供渲染端使用的 HTTP 接口: 状态快照、用户命令、SSE 变更推送。
package dashboard

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/registry"
	"github.com/multi-agent/transcript-sync/internal/store"
	"github.com/multi-agent/transcript-sync/internal/stream"
	"github.com/multi-agent/transcript-sync/internal/uistate"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// Engine is the command surface the dashboard drives.
type Engine interface {
	Snapshot() uistate.Snapshot
	Registry() *registry.Registry
	SwitchSession(ctx context.Context, sessionID string) error
	Send(ctx context.Context, req uistate.SendRequest) (string, error)
	Abort(ctx context.Context) error
	Revert(ctx context.Context, messageID string) error
	RespondPermission(ctx context.Context, permissionID string, response model.PermissionResponse) error
	DismissError()
}

// TranscriptLister lists cached transcripts.
type TranscriptLister interface {
	Recent(ctx context.Context, limit int) ([]store.TranscriptInfo, error)
}

// EventLog exposes the most recent raw push events.
type EventLog interface {
	Recent(limit int) []stream.RecordedEvent
}

// Server Dashboard HTTP 服务。
type Server struct {
	router      *gin.Engine
	engine      Engine
	bus         *EventBus
	transcripts TranscriptLister
	events      EventLog
	streamState func() string
}

// Option configures a Server.
type Option func(*Server)

// WithTranscripts exposes cached transcripts under /api/transcripts.
func WithTranscripts(t TranscriptLister) Option {
	return func(s *Server) { s.transcripts = t }
}

// WithEventLog exposes recent raw events under /api/events/recent.
func WithEventLog(l EventLog) Option {
	return func(s *Server) { s.events = l }
}

// WithStreamState reports the push channel state in /healthz.
func WithStreamState(fn func() string) Option {
	return func(s *Server) { s.streamState = fn }
}

// NewServer 创建 Dashboard 服务。bus 通常同时作为 engine 的 Listener。
func NewServer(engine Engine, bus *EventBus, opts ...Option) *Server {
	if bus == nil {
		bus = NewEventBus()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{router: r, engine: engine, bus: bus}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// requestLogger 把带 method/path 的日志器注入请求 context, 请求结束后记一条 debug 日志。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := logger.With(logger.FieldMethod, c.Request.Method, logger.FieldPath, c.Request.URL.Path)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))
		c.Next()
		l.Debug("dashboard: request",
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldLatencyMS, time.Since(start).Milliseconds(),
		)
	}
}
