// Package app 组装守护进程: 存储 → 后端客户端 → 引擎 → 推送通道 → HTTP 面板。
//
// cmd/syncd 与 synctl watch 共用同一套装配逻辑。
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/transcript-sync/internal/backend"
	"github.com/multi-agent/transcript-sync/internal/config"
	"github.com/multi-agent/transcript-sync/internal/dashboard"
	"github.com/multi-agent/transcript-sync/internal/database"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/store"
	"github.com/multi-agent/transcript-sync/internal/stream"
	"github.com/multi-agent/transcript-sync/internal/uistate"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

const shutdownTimeout = 5 * time.Second

// transcriptStore 是 PG 与 SQLite 两种缓存的公共面。
type transcriptStore interface {
	uistate.TranscriptCache
	dashboard.TranscriptLister
}

// App holds the wired components of one sync process.
type App struct {
	cfg    *config.Config
	Client *backend.Client
	Engine *uistate.Engine
	Stream *stream.Manager
	Bus    *dashboard.EventBus
	Server *dashboard.Server
	Events *stream.Recorder

	connectedOnce atomic.Bool
	closers       []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	listeners []uistate.Listener
	transport stream.Transport
}

// WithListener adds a listener next to the dashboard event bus.
func WithListener(l uistate.Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithTransport overrides the transport derived from config.
func WithTransport(t stream.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New wires every component from cfg. 调用方负责 Close。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg}

	prefStore, transcripts, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Client = backend.New(cfg.BackendURL,
		backend.WithDirectory(cfg.BackendDirectory),
		backend.WithTimeout(cfg.HTTPTimeout()),
	)
	a.Bus = dashboard.NewEventBus()

	listeners := append(uistate.Listeners{a.Bus}, o.listeners...)
	engineOpts := []uistate.EngineOption{
		uistate.WithListener(listeners),
		uistate.WithPreferences(uistate.NewPreferenceManager(prefStore)),
		uistate.WithProject(cfg.ProjectID),
	}
	if transcripts != nil {
		engineOpts = append(engineOpts, uistate.WithTranscriptCache(transcripts))
	}
	a.Engine = uistate.NewEngine(a.Client, engineOpts...)

	if err := a.openEventLog(); err != nil {
		a.Close()
		return nil, err
	}

	tr := o.transport
	if tr == nil {
		tr = NewTransport(cfg, a.Client)
	}
	a.Stream = stream.NewManager(tr,
		a.Events.Wrap(func(ev model.RawEvent) { a.Engine.HandleEvent(ev) }),
		stream.WithReconnectDelay(cfg.ReconnectDelay()),
		stream.OnStateChange(a.onStreamState),
	)

	serverOpts := []dashboard.Option{
		dashboard.WithStreamState(func() string { return a.Stream.State().String() }),
		dashboard.WithEventLog(a.Events),
	}
	if transcripts != nil {
		serverOpts = append(serverOpts, dashboard.WithTranscripts(transcripts))
	}
	a.Server = dashboard.NewServer(a.Engine, a.Bus, serverOpts...)
	return a, nil
}

// openStorage 打开可选的 PostgreSQL / SQLite。两者都未配置时返回 nil, 引擎使用内存偏好。
func (a *App) openStorage(ctx context.Context) (uistate.PreferenceStore, transcriptStore, error) {
	cfg := a.cfg
	var (
		prefs       uistate.PreferenceStore
		transcripts transcriptStore
		pool        *pgxpool.Pool
	)
	if cfg.PostgresEnabled() {
		var err error
		if pool, err = database.NewPool(ctx, cfg); err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			return nil, nil, err
		}
		prefs = store.NewUIPreferenceStore(pool)
	}

	switch cfg.TranscriptCacheBackend() {
	case "postgres":
		transcripts = store.NewTranscriptStore(pool)
	case "sqlite":
		s, err := store.OpenSQLiteTranscriptStore(cfg.TranscriptSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		transcripts = s
		if prefs == nil {
			prefs = s.Preferences()
		}
	}
	logger.Info("app: storage ready",
		"postgres", cfg.PostgresEnabled(),
		"transcript_cache", cfg.TranscriptCacheBackend(),
	)
	return prefs, transcripts, nil
}

// openEventLog 创建事件记录器; EVENT_LOG_PATH 非空时以追加方式写 JSONL。
func (a *App) openEventLog() error {
	path := a.cfg.EventLogPath
	if path == "" {
		a.Events = stream.NewRecorder(a.cfg.EventBufferSize, nil)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(err, "App.openEventLog", "create event log dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperrors.Wrapf(err, "App.openEventLog", "open %s", path)
	}
	a.closers = append(a.closers, func() { _ = f.Close() })
	a.Events = stream.NewRecorder(a.cfg.EventBufferSize, f)
	logger.Info("app: recording events", logger.FieldPath, path)
	return nil
}

// NewTransport 根据 STREAM_TRANSPORT 选择 SSE 或 WebSocket。
func NewTransport(cfg *config.Config, client *backend.Client) stream.Transport {
	u := client.URL(cfg.StreamPath)
	if cfg.StreamTransport == config.TransportWebSocket {
		return stream.NewWSTransport(u, nil)
	}
	return stream.NewSSETransport(u, nil)
}

// onStreamState 在重连成功后补拉历史, 弥补断线期间丢失的事件。
func (a *App) onStreamState(s stream.State) {
	logger.Info("app: stream state", logger.FieldState, s.String())
	if s != stream.StateConnected {
		return
	}
	if !a.connectedOnce.CompareAndSwap(false, true) && a.Engine.SessionID() != "" {
		util.SafeGo("app.reload-history", func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout())
			defer cancel()
			if err := a.Engine.LoadHistory(ctx); err != nil {
				logger.Warn("app: reload history after reconnect failed", logger.FieldError, err)
			}
		})
	}
}

// RestoreSession 激活 SESSION_ID, 未配置时回落到上次使用的会话。返回激活的会话 ID。
func (a *App) RestoreSession(ctx context.Context) string {
	sessionID := a.cfg.SessionID
	if sessionID == "" {
		last, err := a.Engine.Preferences().LastSessionID(ctx)
		if err != nil {
			logger.Warn("app: read last session failed", logger.FieldError, err)
		}
		sessionID = last
	}
	if sessionID == "" {
		logger.Info("app: no session selected, waiting for POST /api/session")
		return ""
	}
	if err := a.Engine.SwitchSession(ctx, sessionID); err != nil {
		// 历史加载失败不致命, 推送事件仍会填充转录
		logger.Warn("app: restore session failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
	}
	return sessionID
}

// Run starts the stream subscription and, when addr is non-empty, the HTTP
// dashboard. 阻塞直到 ctx 取消或 HTTP 服务失败。
func (a *App) Run(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Stream.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		a.Stream.Stop()
		return nil
	})

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Server.Engine(),
			ReadHeaderTimeout: 10 * time.Second,
			// SSE 长连接随 gctx 取消而结束, Shutdown 不会被挂住
			BaseContext: func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			logger.Info("dashboard starting", logger.FieldAddr, addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return apperrors.Wrap(err, "App.Run", "dashboard listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Close releases storage handles in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
