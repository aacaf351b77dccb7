package stream

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/transcript-sync/internal/model"
	apperrors "github.com/multi-agent/transcript-sync/pkg/errors"
	"github.com/multi-agent/transcript-sync/pkg/logger"
	"github.com/multi-agent/transcript-sync/pkg/util"
)

const (
	wsHandshakeTimeout = 5 * time.Second
	wsReadIdleTimeout  = 90 * time.Second
	wsPingInterval     = 30 * time.Second
	wsWriteTimeout     = 5 * time.Second
)

// WSTransport subscribes over a WebSocket carrying JSON text frames.
type WSTransport struct {
	url          string
	header       http.Header
	pingInterval time.Duration
	idleTimeout  time.Duration
}

// NewWSTransport creates a WebSocket transport. http(s) 地址自动转换为 ws(s)。
func NewWSTransport(url string, header http.Header) *WSTransport {
	return &WSTransport{
		url:          toWebSocketURL(url),
		header:       header,
		pingInterval: wsPingInterval,
		idleTimeout:  wsReadIdleTimeout,
	}
}

func toWebSocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// Name implements Transport.
func (t *WSTransport) Name() string { return "ws" }

// URL returns the dial address.
func (t *WSTransport) URL() string { return t.url }

// Connect implements Transport.
func (t *WSTransport) Connect(ctx context.Context) (Conn, error) {
	const op = "WSTransport.Connect"
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: wsHandshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "dial")
	}
	if conn == nil {
		return nil, apperrors.New(op, "dial returned nil websocket connection")
	}
	idle := t.idleTimeout
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	c := &wsConn{conn: conn, idle: idle, done: make(chan struct{})}
	// ctx 取消时关闭连接, 解除阻塞中的 ReadMessage。
	context.AfterFunc(ctx, func() { _ = c.Close() })
	util.SafeGo("stream.ws.ping", func() { c.pingLoop(t.pingInterval) })
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	idle      time.Duration
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Next(ctx context.Context) (model.RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.RawEvent{}, err
		}
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return model.RawEvent{}, apperrors.Wrap(err, "wsConn.Next", "read message")
		}
		// 收到任何消息即视为连接活跃。
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idle))
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := decodeEnvelope(data, "")
		if err != nil {
			logger.Warn("stream: ws frame dropped",
				logger.FieldTransport, "ws",
				logger.FieldLen, len(data),
				logger.FieldError, err,
			)
			continue
		}
		return ev, nil
	}
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Debug("stream: ws ping failed", logger.FieldError, err)
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
