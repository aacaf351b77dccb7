package uistate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/multi-agent/transcript-sync/internal/backend"
	"github.com/multi-agent/transcript-sync/internal/convert"
	"github.com/multi-agent/transcript-sync/internal/merge"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/registry"
	"github.com/multi-agent/transcript-sync/internal/router"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

// cacheSaveTimeout bounds a background transcript cache write.
const cacheSaveTimeout = 5 * time.Second

// Backend is the subset of the agent backend the engine calls.
type Backend interface {
	Messages(ctx context.Context, sessionID string) ([]model.HistoryEntry, error)
	Prompt(ctx context.Context, sessionID string, req backend.PromptRequest) error
	Abort(ctx context.Context, sessionID string) error
	Revert(ctx context.Context, sessionID, messageID string) error
	RespondPermission(ctx context.Context, sessionID, permissionID string, response model.PermissionResponse) error
}

// TranscriptCache persists per-session message snapshots.
type TranscriptCache interface {
	Save(ctx context.Context, sessionID string, messages []model.Message) error
	Load(ctx context.Context, sessionID string) ([]model.Message, bool, error)
}

// SendRequest is a user prompt: plain text, structured parts, or both.
type SendRequest struct {
	Text  string
	Parts []backend.PromptPart
	Agent string
	Model *backend.ModelRef
}

// Engine wires Router, Applier and the backend client together.
//
// 事件处理同步且不可重入: 每个事件完整路由并应用后才处理下一个。
// 命令 (Send/Abort/...) 的本地预测动作与事件共用同一把锁, 网络调用在锁外进行。
type Engine struct {
	mu      sync.Mutex // 串行化 route+apply
	applier *Applier
	router  *router.Router
	backend Backend
	cache   TranscriptCache
	prefs   *PreferenceManager
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	registry  *registry.Registry
	listener  Listener
	cache     TranscriptCache
	prefs     *PreferenceManager
	projectID string
	now       func() time.Time
}

// WithRegistry injects the shared session registry.
func WithRegistry(r *registry.Registry) EngineOption {
	return func(c *engineConfig) { c.registry = r }
}

// WithListener sets the notification listener.
func WithListener(l Listener) EngineOption {
	return func(c *engineConfig) { c.listener = l }
}

// WithTranscriptCache enables the transcript cache.
func WithTranscriptCache(tc TranscriptCache) EngineOption {
	return func(c *engineConfig) { c.cache = tc }
}

// WithPreferences enables last-session persistence.
func WithPreferences(p *PreferenceManager) EngineOption {
	return func(c *engineConfig) { c.prefs = p }
}

// WithProject sets the project id carried in the handler context.
func WithProject(projectID string) EngineOption {
	return func(c *engineConfig) { c.projectID = projectID }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// NewEngine creates an engine. b may be nil for offline replay.
func NewEngine(b Backend, opts ...EngineOption) *Engine {
	cfg := engineConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = registry.New()
	}
	if cfg.prefs == nil {
		cfg.prefs = NewPreferenceManager(nil)
	}
	e := &Engine{
		applier: NewApplier(cfg.registry, cfg.listener),
		router:  router.New(cfg.registry, router.WithClock(cfg.now)),
		backend: b,
		cache:   cfg.cache,
		prefs:   cfg.prefs,
		now:     cfg.now,
	}
	if cfg.projectID != "" {
		e.applier.mu.Lock()
		e.applier.state.ProjectID = cfg.projectID
		e.applier.mu.Unlock()
	}
	return e
}

// Registry returns the shared session registry.
func (e *Engine) Registry() *registry.Registry { return e.router.Registry() }

// Preferences returns the preference manager.
func (e *Engine) Preferences() *PreferenceManager { return e.prefs }

// Snapshot returns the state exposed to the rendering collaborator.
func (e *Engine) Snapshot() Snapshot { return e.applier.Snapshot() }

// SessionID returns the active session id.
func (e *Engine) SessionID() string { return e.applier.SessionID() }

// HandleEvent routes one event and applies its actions before returning.
func (e *Engine) HandleEvent(ev model.RawEvent) router.Result {
	e.mu.Lock()
	hctx := e.applier.Context()
	res := e.router.Route(ev, hctx)
	e.applier.Apply(res.Actions...)
	e.mu.Unlock()

	if becameIdle(res.Actions) {
		e.saveCacheAsync(hctx.SessionID)
	}
	return res
}

func becameIdle(actions []model.Action) bool {
	for _, a := range actions {
		if s, ok := a.(model.SetSessionStatus); ok && s.Status.Type == model.StatusIdle {
			return true
		}
	}
	return false
}

// apply applies locally predicted actions under the event lock.
func (e *Engine) apply(actions ...model.Action) {
	e.mu.Lock()
	e.applier.Apply(actions...)
	e.mu.Unlock()
}

// SwitchSession makes sessionID active and loads its history.
// 消息/状态/错误被清空, 权限队列保留 (子会话审批跨视图可见)。
func (e *Engine) SwitchSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if err := e.SelectSession(sessionID); err != nil {
		return err
	}
	projectID := e.applier.Context().ProjectID
	if err := e.prefs.SetLastSession(ctx, projectID, sessionID); err != nil {
		logger.Warn("engine: persist last session failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
	}
	return e.LoadHistory(ctx)
}

// SelectSession makes sessionID active without touching the backend.
// 离线回放使用; 正常切换走 SwitchSession。
func (e *Engine) SelectSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Engine.SelectSession", "empty session id")
	}
	e.mu.Lock()
	e.applier.reset("", sessionID)
	e.mu.Unlock()
	logger.Info("engine: session switched", logger.FieldSessionID, sessionID)
	return nil
}

// LoadHistory loads the active session's history from the backend and merges
// it into the current state. 后端失败且缓存命中时使用缓存。
func (e *Engine) LoadHistory(ctx context.Context) error {
	const op = "Engine.LoadHistory"
	sessionID := e.applier.SessionID()
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrNoActiveSession, op, "load history")
	}
	if e.backend == nil {
		return apperrors.Wrap(apperrors.ErrNotConnected, op, "no backend configured")
	}

	start := e.now()
	entries, err := e.backend.Messages(ctx, sessionID)
	if err != nil {
		if cached, ok := e.loadCache(ctx, sessionID); ok {
			logger.Warn("engine: history load failed, using cached transcript",
				logger.FieldSessionID, sessionID,
				logger.FieldCount, len(cached),
				logger.FieldError, err,
			)
			e.applyHistory(sessionID, cached)
			return nil
		}
		e.apply(model.SetError{Message: "Failed to load messages: " + err.Error()})
		return apperrors.Wrap(err, op, "fetch messages")
	}

	msgs := BuildHistory(entries)
	if !e.applyHistory(sessionID, msgs) {
		return nil
	}
	logger.Info("engine: history loaded",
		logger.FieldSessionID, sessionID,
		logger.FieldCount, len(msgs),
		logger.FieldLatencyMS, e.now().Sub(start).Milliseconds(),
	)
	e.saveCacheAsync(sessionID)
	return nil
}

// applyHistory merges msgs into the state when sessionID is still active.
func (e *Engine) applyHistory(sessionID string, msgs []model.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applier.SessionID() != sessionID {
		logger.Debug("engine: stale history discarded", logger.FieldSessionID, sessionID)
		return false
	}
	actions := make([]model.Action, 0, len(msgs)+1)
	for _, m := range msgs {
		actions = append(actions, model.AddMessage{Message: m})
	}
	if replace, ok := reconcileOptimistic(e.applier.Context(), msgs); ok {
		actions = append(actions, replace)
	}
	e.applier.Apply(actions...)
	return true
}

// reconcileOptimistic 在历史中找到乐观消息对应的真实 user 消息时返回替换动作。
// 断线期间错过的 message.updated 不会再推送, 只能由历史补齐。
// 候选: 发送前不在列表中的最后一条 user 消息, 且文本相同或创建时间不早于乐观消息。
func reconcileOptimistic(hctx model.HandlerContext, history []model.Message) (model.Action, bool) {
	opt, ok := hctx.FindOptimistic(hctx.SessionID)
	if !ok {
		return nil, false
	}
	optIdx := hctx.IndexOf(opt.ID)
	want := strings.TrimSpace(opt.Text)
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != model.RoleUser || m.IsOptimistic() {
			continue
		}
		if idx := hctx.IndexOf(m.ID); idx >= 0 && idx < optIdx {
			// 发送前已存在, 之前的消息都更早
			break
		}
		if strings.TrimSpace(m.Text) == want || m.CreatedAt >= opt.CreatedAt {
			return model.ReplaceOptimisticID{
				OptimisticID: opt.ID,
				RealID:       m.ID,
				Info:         model.MessageInfo{ID: m.ID, SessionID: m.SessionID, Role: model.RoleUser},
			}, true
		}
		break
	}
	return nil, false
}

// BuildHistory converts history entries with the full-snapshot converter.
// info 中的 tokens/cost 为权威总量, 覆盖 step 累计值。
func BuildHistory(entries []model.HistoryEntry) []model.Message {
	out := make([]model.Message, 0, len(entries))
	for _, entry := range entries {
		if entry.Info.ID == "" {
			logger.Warn("engine: history entry without id skipped")
			continue
		}
		msg := merge.FromInfo(entry.Info)
		if msg.Role == "" {
			msg.Role = model.RoleAssistant
		}
		for _, part := range entry.Parts {
			res, ok := convert.FromSnapshot(part)
			if !ok {
				continue
			}
			msg = merge.Apply(msg, res)
		}
		if entry.Info.Tokens != nil || entry.Info.Cost != nil {
			msg = merge.ApplyInfo(msg, entry.Info)
		}
		out = append(out, msg)
	}
	return out
}

// Send adds an optimistic user message, marks the session busy and submits
// the prompt. 失败时回滚 running/status 并设置错误, 乐观消息保留。
func (e *Engine) Send(ctx context.Context, req SendRequest) (string, error) {
	const op = "Engine.Send"
	text := strings.TrimSpace(req.Text)
	parts := req.Parts
	if text == "" && len(parts) == 0 {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, op, "empty prompt")
	}
	if len(parts) == 0 {
		parts = []backend.PromptPart{backend.TextPart(req.Text)}
	}
	if text == "" {
		text = promptText(parts)
	}

	e.mu.Lock()
	hctx := e.applier.Context()
	sessionID := hctx.SessionID
	if sessionID == "" {
		e.mu.Unlock()
		return "", apperrors.Wrap(apperrors.ErrNoActiveSession, op, "send")
	}
	var actions []model.Action
	if stale, ok := hctx.FindOptimistic(sessionID); ok {
		actions = append(actions, model.RemoveMessage{ID: stale.ID})
	}
	optimistic := model.Message{
		ID:        model.NewOptimisticID(),
		Role:      model.RoleUser,
		SessionID: sessionID,
		Text:      text,
		CreatedAt: e.now().UnixMilli(),
	}
	actions = append(actions,
		model.AddMessage{Message: optimistic},
		model.SetError{},
		model.SetRunning{Running: true},
		model.SetSessionStatus{Status: model.BusyStatus()},
		model.UpdateSessionActivity{SessionID: sessionID, Active: true},
	)
	e.applier.Apply(actions...)
	e.mu.Unlock()

	if e.backend == nil {
		err := apperrors.Wrap(apperrors.ErrNotConnected, op, "no backend configured")
		e.rollbackSend(sessionID, err)
		return optimistic.ID, err
	}
	err := e.backend.Prompt(ctx, sessionID, backend.PromptRequest{Parts: parts, Agent: req.Agent, Model: req.Model})
	if err != nil {
		e.rollbackSend(sessionID, err)
		return optimistic.ID, apperrors.Wrap(err, op, "prompt")
	}
	logger.Info("engine: prompt sent", logger.FieldSessionID, sessionID, logger.FieldMessageID, optimistic.ID)
	return optimistic.ID, nil
}

func (e *Engine) rollbackSend(sessionID string, err error) {
	logger.Warn("engine: send failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
	actions := []model.Action{model.SetError{Message: "Failed to send message: " + err.Error()}}
	if e.applier.SessionID() == sessionID {
		actions = append(actions,
			model.SetRunning{Running: false},
			model.SetSessionStatus{Status: model.IdleStatus()},
		)
	}
	actions = append(actions, model.UpdateSessionActivity{SessionID: sessionID, Active: false})
	e.apply(actions...)
}

func promptText(parts []backend.PromptPart) string {
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Abort stops the running turn. 本地立即置 running=false 并关闭活动信号,
// 不等待后端确认; 后续推送事件会纠正状态。
func (e *Engine) Abort(ctx context.Context) error {
	const op = "Engine.Abort"
	sessionID := e.applier.SessionID()
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrNoActiveSession, op, "abort")
	}
	e.apply(
		model.SetRunning{Running: false},
		model.UpdateSessionActivity{SessionID: sessionID, Active: false},
	)
	if e.backend == nil {
		return apperrors.Wrap(apperrors.ErrNotConnected, op, "no backend configured")
	}
	if err := e.backend.Abort(ctx, sessionID); err != nil {
		logger.Warn("engine: abort failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		e.apply(model.SetError{Message: "Failed to abort: " + err.Error()})
		return apperrors.Wrap(err, op, "abort")
	}
	return nil
}

// RespondPermission answers a queued permission request.
func (e *Engine) RespondPermission(ctx context.Context, permissionID string, response model.PermissionResponse) error {
	const op = "Engine.RespondPermission"
	if !response.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, op, "invalid response %q", response)
	}
	perm, ok := e.applier.setPermissionResponding(permissionID, true)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrPermissionNotFound, op, "permission %s", permissionID)
	}
	if e.backend == nil {
		e.applier.setPermissionResponding(permissionID, false)
		return apperrors.Wrap(apperrors.ErrNotConnected, op, "no backend configured")
	}

	sessionID := util.FirstNonEmpty(perm.SessionID, e.applier.SessionID())
	if err := e.backend.RespondPermission(ctx, sessionID, permissionID, response); err != nil {
		logger.Warn("engine: permission response failed",
			logger.FieldPermissionID, permissionID,
			logger.FieldResponse, string(response),
			logger.FieldError, err,
		)
		e.applier.setPermissionResponding(permissionID, false)
		e.apply(model.SetError{Message: "Failed to respond to permission: " + err.Error()})
		return apperrors.Wrap(err, op, "respond")
	}
	e.apply(model.RemovePermission{ID: permissionID})
	logger.Info("engine: permission answered",
		logger.FieldPermissionID, permissionID,
		logger.FieldResponse, string(response),
	)
	return nil
}

// Revert reverts the active session to before messageID.
func (e *Engine) Revert(ctx context.Context, messageID string) error {
	const op = "Engine.Revert"
	sessionID := e.applier.SessionID()
	if sessionID == "" {
		return apperrors.Wrap(apperrors.ErrNoActiveSession, op, "revert")
	}
	if strings.TrimSpace(messageID) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "empty message id")
	}
	if e.backend == nil {
		return apperrors.Wrap(apperrors.ErrNotConnected, op, "no backend configured")
	}
	if err := e.backend.Revert(ctx, sessionID, messageID); err != nil {
		e.apply(model.SetError{Message: "Failed to revert: " + err.Error()})
		return apperrors.Wrap(err, op, "revert")
	}
	return nil
}

// DismissError clears the user-visible error.
func (e *Engine) DismissError() { e.apply(model.SetError{}) }

func (e *Engine) loadCache(ctx context.Context, sessionID string) ([]model.Message, bool) {
	if e.cache == nil {
		return nil, false
	}
	msgs, ok, err := e.cache.Load(ctx, sessionID)
	if err != nil {
		logger.Warn("engine: transcript cache load failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		return nil, false
	}
	return msgs, ok
}

// saveCacheAsync persists the active transcript without blocking event handling.
func (e *Engine) saveCacheAsync(sessionID string) {
	if e.cache == nil || sessionID == "" {
		return
	}
	snap := e.applier.Snapshot()
	if snap.SessionID != sessionID {
		return
	}
	util.SafeGo("engine.cache-save", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheSaveTimeout)
		defer cancel()
		if err := e.cache.Save(ctx, sessionID, snap.Messages); err != nil {
			logger.Warn("engine: transcript cache save failed", logger.FieldSessionID, sessionID, logger.FieldError, err)
		}
	})
}
