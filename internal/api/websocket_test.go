package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stream-orchestrator/internal/orchestrator"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialStream(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHandler_WebSocket_streams_state(t *testing.T) {
	h, sup := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "/streams/s1/ws?client_id=viewer-1")
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Type != WSTypeState {
		t.Fatalf("expected state frame first, got %q", f.Type)
	}
	var st orchestrator.State
	if err := json.Unmarshal(f.Payload, &st); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !st.IsRunning {
		t.Errorf("expected connecting client to start the stream")
	}
	if n := sup.SubscriberCount("s1"); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
}

func TestHandler_WebSocket_ping(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "/streams/s1/ws")
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	// State frames keep arriving while the stream ticks.
	for i := 0; i < 500; i++ {
		if f := readFrame(t, conn); f.Type == WSTypePong {
			return
		}
	}
	t.Fatal("no pong received")
}

func TestHandler_WebSocket_close_unregisters(t *testing.T) {
	h, sup := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "/streams/s1/ws?client_id=viewer-1")
	readFrame(t, conn)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	eventually(t, func() bool { return sup.SubscriberCount("s1") == 0 }, "subscriber removed")
	eventually(t, func() bool {
		st, _ := sup.State("s1")
		return !st.IsRunning
	}, "stream stopped")
}

func TestHandler_WebSocket_unconfigured_stream(t *testing.T) {
	h, sup := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "/streams/empty/ws")
	defer conn.Close()

	f := readFrame(t, conn)
	var st orchestrator.State
	json.Unmarshal(f.Payload, &st)
	if st.IsRunning {
		t.Errorf("expected unconfigured stream to stay stopped")
	}
	if n := sup.SubscriberCount("empty"); n != 1 {
		t.Errorf("expected subscriber kept on unconfigured stream, got %d", n)
	}
}

func TestHandler_WebSocket_closes_when_engine_stops(t *testing.T) {
	h, sup := newTestHandler(t)
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv, "/streams/s1/ws?client_id=viewer-1")
	defer conn.Close()
	readFrame(t, conn)

	if err := sup.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frames := 0
	for {
		var f wsFrame
		err := conn.ReadJSON(&f)
		if err == nil {
			frames++
			if frames > 50 {
				t.Fatalf("still receiving frames after engine stopped (%d)", frames)
			}
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close, got %v", err)
		}
		return
	}
}
