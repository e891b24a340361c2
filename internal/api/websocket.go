package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"stream-orchestrator/internal/orchestrator"
)

// WebSocket message types.
const (
	WSTypeState = "state"
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeError = "error"

	wsSendBufferSize = 16
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type wsConfig struct {
	pingInterval   time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

func defaultWSConfig() wsConfig {
	return wsConfig{
		pingInterval:   30 * time.Second,
		pongWait:       60 * time.Second,
		maxMessageSize: 4096,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsClient is one socket watching one stream. The socket counts as a
// subscriber for as long as it is open; any inbound frame or pong is a
// heartbeat.
type wsClient struct {
	h        *Handler
	conn     *websocket.Conn
	streamID orchestrator.StreamID
	clientID string
	sub      *orchestrator.Subscription
	send     chan []byte
	done     chan struct{}
	log      *slog.Logger
}

// WebSocket handles GET /streams/{stream_id}/ws[?client_id=...].
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	streamID := orchestrator.StreamID(chi.URLParam(r, "stream_id"))
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	log := h.log.With(slog.String("stream_id", string(streamID)), slog.String("client_id", clientID))
	if err := h.sup.RegisterSubscriber(r.Context(), streamID, clientID, r.RemoteAddr); err != nil {
		log.Warn("websocket subscriber rejected", slog.String("error", err.Error()))
		writeCloseError(conn, err)
		conn.Close()
		return
	}
	sub, err := h.sup.Subscribe(streamID)
	if err != nil {
		writeCloseError(conn, err)
		conn.Close()
		h.unregister(streamID, clientID)
		return
	}

	c := &wsClient{
		h:        h,
		conn:     conn,
		streamID: streamID,
		clientID: clientID,
		sub:      sub,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
		log:      log,
	}
	log.Debug("websocket connected")
	go c.writePump()
	c.readPump()
}

func (h *Handler) unregister(id orchestrator.StreamID, clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.sup.UnregisterSubscriber(ctx, id, clientID); err != nil {
		h.log.Debug("websocket unregister", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
	}
}

func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.h.unregister(c.streamID, c.clientID)
		c.log.Debug("websocket disconnected")
	}()

	cfg := c.h.ws
	c.conn.SetReadLimit(cfg.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.pingInterval + cfg.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.heartbeat()
		return c.conn.SetReadDeadline(time.Now().Add(cfg.pingInterval + cfg.pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.pingInterval + cfg.pongWait))
		c.heartbeat()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(WSMessage{Type: WSTypeError, Payload: "invalid message"})
			continue
		}
		if msg.Type == WSTypePing {
			c.enqueue(WSMessage{Type: WSTypePong})
		}
	}
}

func (c *wsClient) heartbeat() {
	if err := c.h.sup.Heartbeat(c.streamID, c.clientID); err != nil {
		c.log.Debug("websocket heartbeat rejected", slog.String("error", err.Error()))
	}
}

// enqueue drops the frame when the writer is behind; state frames are
// superseded by the next snapshot anyway.
func (c *wsClient) enqueue(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump owns every write on the connection.
func (c *wsClient) writePump() {
	cfg := c.h.ws
	ticker := time.NewTicker(cfg.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.sub.Changed():
			if c.sub.Stopped() {
				c.log.Debug("stream engine stopped, closing websocket")
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream stopped")
				c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			msg := WSMessage{
				Type:      WSTypeState,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Payload:   c.sub.Latest(),
			}
			c.conn.SetWriteDeadline(time.Now().Add(cfg.pongWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeCloseError(conn *websocket.Conn, err error) {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
