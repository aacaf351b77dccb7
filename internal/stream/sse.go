package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

// SSETransport subscribes with a long-lived `text/event-stream` GET.
type SSETransport struct {
	url    string
	client *http.Client
}

// NewSSETransport creates an SSE transport for url.
// httpClient 不应设置 Timeout (长连接); nil 使用无超时客户端。
func NewSSETransport(url string, httpClient *http.Client) *SSETransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SSETransport{url: url, client: httpClient}
}

// Name implements Transport.
func (t *SSETransport) Name() string { return "sse" }

// Connect implements Transport. 连接在 ctx 取消时关闭。
func (t *SSETransport) Connect(ctx context.Context) (Conn, error) {
	const op = "SSETransport.Connect"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "subscribe")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, apperrors.WithCode(apperrors.ErrBackend, op, fmt.Sprintf("HTTP_%d", resp.StatusCode),
			strings.TrimSpace(string(body)))
	}
	return &sseConn{body: resp.Body, frames: newFrameReader(resp.Body)}, nil
}

type sseConn struct {
	body   io.ReadCloser
	frames *frameReader
}

func (c *sseConn) Next(ctx context.Context) (model.RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.RawEvent{}, err
		}
		f, err := c.frames.next()
		if err != nil {
			return model.RawEvent{}, err
		}
		if f.data == "" {
			continue
		}
		ev, err := decodeEnvelope([]byte(f.data), f.event)
		if err != nil {
			logger.Warn("stream: sse frame dropped",
				logger.FieldTransport, "sse",
				logger.FieldEventType, f.event,
				logger.FieldLen, len(f.data),
				logger.FieldError, err,
			)
			continue
		}
		return ev, nil
	}
}

func (c *sseConn) Close() error { return c.body.Close() }

// frame is one dispatched SSE event.
type frame struct {
	event string
	data  string
	id    string
}

// frameReader parses the SSE wire format line by line.
// 空行分派帧; ':' 开头为注释 (心跳); 多个 data 行以 '\n' 连接。
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (fr *frameReader) next() (frame, error) {
	var (
		f    frame
		data []string
	)
	for {
		line, err := fr.r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if len(data) > 0 || f.event != "" {
					f.data = strings.Join(data, "\n")
					return f, nil
				}
			case strings.HasPrefix(line, ":"): // 心跳注释
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					f.event = value
				case "data":
					data = append(data, value)
				case "id":
					f.id = value
				}
			}
		}
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				f.data = strings.Join(data, "\n")
				return f, nil
			}
			return frame{}, err
		}
	}
}
