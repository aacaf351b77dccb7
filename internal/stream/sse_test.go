package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFrameReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []frame
	}{
		{
			name:  "single",
			input: "data: {\"type\":\"a\"}\n\n",
			want:  []frame{{data: `{"type":"a"}`}},
		},
		{
			name:  "event_and_id",
			input: "event: message\nid: 7\ndata: x\n\n",
			want:  []frame{{event: "message", id: "7", data: "x"}},
		},
		{
			name:  "comments_and_crlf",
			input: ": ping\r\n\r\ndata: a\r\n\r\n",
			want:  []frame{{data: "a"}},
		},
		{
			name:  "multiline_data",
			input: "data: line1\ndata: line2\n\n",
			want:  []frame{{data: "line1\nline2"}},
		},
		{
			name:  "trailing_frame_without_blank_line",
			input: "data: one\n\ndata: two",
			want:  []frame{{data: "one"}, {data: "two"}},
		},
		{
			name:  "no_space_after_colon",
			input: "data:{}\n\n",
			want:  []frame{{data: "{}"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFrameReader(strings.NewReader(tt.input))
			for i, want := range tt.want {
				got, err := fr.next()
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if got != want {
					t.Errorf("frame %d = %+v, want %+v", i, got, want)
				}
			}
			if _, err := fr.next(); err != io.EOF {
				t.Errorf("trailing err = %v, want EOF", err)
			}
		})
	}
}

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
		w.(http.Flusher).Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSSETransportDecodesEvents(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"session.idle","properties":{"sessionID":"s1"}}`,
		``,
		`data: not json`,
		``,
		`event: server.connected`,
		`data: {"properties":{}}`,
		``,
		``,
	}, "\n")
	srv := sseServer(t, body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := NewSSETransport(srv.URL, nil).Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	first, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.Type != "session.idle" || !strings.Contains(string(first.Properties), "s1") {
		t.Errorf("first = %+v", first)
	}
	// 非法 JSON 帧被跳过, 类型回退到 SSE event 名
	second, err := conn.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second.Type != "server.connected" {
		t.Errorf("second.Type = %q, want server.connected", second.Type)
	}
	if _, err := conn.Next(ctx); err == nil {
		t.Error("Next after end of stream returned nil error")
	}
}

func TestSSETransportRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSSETransport(srv.URL, nil).Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Connect err = %v", err)
	}
}
