// Package backend 是 agent 后端的 REST 客户端。
//
// 覆盖引擎需要的出站命令:
//   - Messages           GET  /session/{id}/message
//   - Session            GET  /session/{id}
//   - Prompt             POST /session/{id}/prompt_async
//   - Abort              POST /session/{id}/abort
//   - Revert             POST /session/{id}/revert
//   - RespondPermission  POST /session/{id}/permissions/{permissionID}
//
// 配置了工作目录时, 所有请求追加 ?directory= 参数。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// maxErrorBody 截断错误响应体, 避免日志膨胀。
const maxErrorBody = 2048

// PromptPart is one element of a structured prompt.
type PromptPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Mime     string `json:"mime,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// TextPart returns a text prompt part.
func TextPart(text string) PromptPart { return PromptPart{Type: "text", Text: text} }

// ModelRef selects provider/model for a prompt.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// PromptRequest is the body of prompt_async.
type PromptRequest struct {
	Parts []PromptPart `json:"parts"`
	Agent string       `json:"agent,omitempty"`
	Model *ModelRef    `json:"model,omitempty"`
}

// Client talks to the agent backend over HTTP+JSON.
type Client struct {
	baseURL   string
	directory string
	httpCli   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithDirectory scopes every request to a project directory.
func WithDirectory(dir string) Option {
	return func(c *Client) { c.directory = strings.TrimSpace(dir) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpCli = h
		}
	}
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpCli.Timeout = d
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCli: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Directory returns the configured directory scope.
func (c *Client) Directory() string { return c.directory }

// Messages loads the full history of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]model.HistoryEntry, error) {
	var out []model.HistoryEntry
	if err := c.getJSON(ctx, "Client.Messages", sessionPath(sessionID, "message"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session fetches session metadata.
func (c *Client) Session(ctx context.Context, sessionID string) (model.SessionInfo, error) {
	var out model.SessionInfo
	err := c.getJSON(ctx, "Client.Session", sessionPath(sessionID, ""), &out)
	return out, err
}

// Prompt submits a prompt without waiting for the turn to finish.
// 结果通过推送事件 (message.updated / message.part.updated) 回流。
func (c *Client) Prompt(ctx context.Context, sessionID string, req PromptRequest) error {
	if len(req.Parts) == 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Client.Prompt", "prompt has no parts")
	}
	return c.postJSON(ctx, "Client.Prompt", sessionPath(sessionID, "prompt_async"), req, nil)
}

// Abort asks the backend to stop the running turn.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "Client.Abort", sessionPath(sessionID, "abort"), nil, nil)
}

// Revert reverts the session to before messageID.
func (c *Client) Revert(ctx context.Context, sessionID, messageID string) error {
	body := map[string]string{"messageID": messageID}
	return c.postJSON(ctx, "Client.Revert", sessionPath(sessionID, "revert"), body, nil)
}

// RespondPermission answers a pending permission request.
func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID string, response model.PermissionResponse) error {
	if !response.Valid() {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Client.RespondPermission", "invalid response %q", response)
	}
	path := sessionPath(sessionID, "permissions/"+url.PathEscape(permissionID))
	body := map[string]string{"response": string(response)}
	return c.postJSON(ctx, "Client.RespondPermission", path, body, nil)
}

// URL builds an absolute URL for path with the directory parameter applied.
func (c *Client) URL(path string) string {
	u := c.baseURL + path
	if c.directory == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "directory=" + url.QueryEscape(c.directory)
}

func sessionPath(sessionID, suffix string) string {
	p := "/session/" + url.PathEscape(sessionID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// getJSON GET 请求并解析 JSON。
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path), nil)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(op, req, out)
}

// postJSON POST JSON body; body 为 nil 时发送空对象。
func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	if body == nil {
		body = struct{}{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(path), bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, op, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	logger.Debug("backend: request",
		logger.FieldMethod, req.Method,
		logger.FieldPath, req.URL.Path,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldLatencyMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &apperrors.AppError{
			Op:      op,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: fmt.Sprintf("%s %s status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body))),
			Err:     statusSentinel(resp.StatusCode),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, op, "decode response")
	}
	return nil
}

func statusSentinel(code int) error {
	switch code {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return apperrors.ErrTimeout
	default:
		return apperrors.ErrBackend
	}
}
