package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narvanalabs/tower-controller/internal/events"
	"github.com/narvanalabs/tower-controller/internal/models"
)

const (
	streamWriteWait = 5 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
)

// StreamMessage is one frame on the live stream.
type StreamMessage struct {
	Type   string          `json:"type"`
	Status *StatusResponse `json:"status,omitempty"`
	Event  *models.Event   `json:"event,omitempty"`
}

// StreamHandler pushes status snapshots and controller events over WebSocket.
type StreamHandler struct {
	ctrl     Controller
	broker   *events.Broker
	interval time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler. A status snapshot is sent
// on connect and then every interval.
func NewStreamHandler(ctrl Controller, broker *events.Broker, interval time.Duration, logger *slog.Logger) *StreamHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StreamHandler{
		ctrl:     ctrl,
		broker:   broker,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve handles GET /api/ws[?towerId=N][&critical=true].
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	var filter events.Filter
	if s := r.URL.Query().Get("towerId"); s != "" {
		id, err := parseTowerID(s)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		filter.TowerID = id
	}
	filter.CriticalOnly = r.URL.Query().Get("critical") == "true"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(filter)
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("stream opened", "subscriber_id", sub.ID, "remote_addr", r.RemoteAddr)
	defer h.logger.Info("stream closed", "subscriber_id", sub.ID)

	// The reader cancels ctx once the peer disconnects.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readPump(conn, cancel)

	if !h.sendStatus(ctx, conn) {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if !h.write(conn, StreamMessage{Type: "event", Event: &ev}) {
				return
			}
		case <-ticker.C:
			if !h.sendStatus(ctx, conn) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels once the peer goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) sendStatus(ctx context.Context, conn *websocket.Conn) bool {
	reqCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	st, err := h.ctrl.Status(reqCtx)
	if err != nil {
		h.logger.Warn("stream status unavailable", "error", err)
		return h.write(conn, StreamMessage{Type: "error"})
	}
	resp := NewStatusResponse(st)
	return h.write(conn, StreamMessage{Type: "status", Status: &resp})
}

func (h *StreamHandler) write(conn *websocket.Conn, msg StreamMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg) == nil
}
