// handler.go — Dashboard REST API handlers。
package dashboard

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/transcript-sync/internal/backend"
	"github.com/multi-agent/transcript-sync/internal/model"
	"github.com/multi-agent/transcript-sync/internal/uistate"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthz)

	api := s.router.Group("/api")

	api.GET("/state", s.getState)
	api.DELETE("/error", s.dismissError)
	api.GET("/sessions/:id/statuses", s.sessionStatuses)
	api.GET("/transcripts", s.listTranscripts)
	api.GET("/events/recent", s.recentEvents)

	api.POST("/session", s.switchSession)
	api.POST("/prompt", s.sendPrompt)
	api.POST("/abort", s.abort)
	api.POST("/revert", s.revert)
	api.POST("/permissions/:id", s.respondPermission)

	api.GET("/events", s.sseHandler)
}

func queryLimit(c *gin.Context, def int) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if v < 1 {
		return def
	}
	if v > 500 {
		return 500
	}
	return v
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "subscribers": s.bus.Subscribers()}
	if s.streamState != nil {
		body["stream"] = s.streamState()
	}
	c.JSON(http.StatusOK, body)
}

// ========================================
// 状态
// ========================================

func (s *Server) getState(c *gin.Context) {
	success(c, s.engine.Snapshot())
}

func (s *Server) dismissError(c *gin.Context) {
	s.engine.DismissError()
	success(c, gin.H{"dismissed": true})
}

// sessionStatuses 返回会话及其所有子孙会话的状态 (registry, 不受当前会话过滤)。
func (s *Server) sessionStatuses(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	reg := s.engine.Registry()
	statuses := map[string]model.SessionStatus{id: reg.Status(id)}
	queue := reg.Children(id)
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]
		if _, seen := statuses[child]; seen {
			continue
		}
		statuses[child] = reg.Status(child)
		queue = append(queue, reg.Children(child)...)
	}
	success(c, gin.H{"sessionId": id, "statuses": statuses})
}

func (s *Server) listTranscripts(c *gin.Context) {
	if s.transcripts == nil {
		notFound(c, "transcript cache disabled")
		return
	}
	items, err := s.transcripts.Recent(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) recentEvents(c *gin.Context) {
	if s.events == nil {
		notFound(c, "event log disabled")
		return
	}
	success(c, s.events.Recent(queryLimit(c, 50)))
}

// ========================================
// 命令
// ========================================

func (s *Server) switchSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.engine.SwitchSession(c.Request.Context(), req.SessionID); err != nil {
		commandError(c, err)
		return
	}
	success(c, s.engine.Snapshot())
}

type promptRequest struct {
	Text  string               `json:"text"`
	Parts []backend.PromptPart `json:"parts"`
	Agent string               `json:"agent"`
	Model *backend.ModelRef    `json:"model"`
}

func (s *Server) sendPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	id, err := s.engine.Send(c.Request.Context(), uistate.SendRequest{
		Text:  req.Text,
		Parts: req.Parts,
		Agent: req.Agent,
		Model: req.Model,
	})
	if err != nil {
		commandError(c, err)
		return
	}
	created(c, gin.H{"messageId": id})
}

func (s *Server) abort(c *gin.Context) {
	if err := s.engine.Abort(c.Request.Context()); err != nil {
		commandError(c, err)
		return
	}
	success(c, gin.H{"aborted": true})
}

func (s *Server) revert(c *gin.Context) {
	var req struct {
		MessageID string `json:"messageId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.engine.Revert(c.Request.Context(), req.MessageID); err != nil {
		commandError(c, err)
		return
	}
	success(c, gin.H{"reverted": req.MessageID})
}

func (s *Server) respondPermission(c *gin.Context) {
	var req struct {
		Response model.PermissionResponse `json:"response" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if !req.Response.Valid() {
		badRequest(c, "invalid_response", "response must be once, always or reject")
		return
	}
	if err := s.engine.RespondPermission(c.Request.Context(), c.Param("id"), req.Response); err != nil {
		commandError(c, err)
		return
	}
	success(c, gin.H{"permissionId": c.Param("id"), "response": req.Response})
}
