package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"road-telemetry-hub/hub"
	"road-telemetry-hub/ingest"
	"road-telemetry-hub/metrics"
)

const maxAgentFrame = 64 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type WSHandler struct {
	hub  *hub.Hub
	sink ingest.Sink
	idle time.Duration
}

func NewWSHandler(h *hub.Hub, sink ingest.Sink, idle time.Duration) *WSHandler {
	return &WSHandler{hub: h, sink: sink, idle: idle}
}

// Subscribe upgrades the request and streams the user's processed batches
// until the client disconnects.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, r, time.Now(), http.StatusBadRequest, "user_id must be an integer")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint(r), "400").Inc()
		slog.Warn("subscriber upgrade failed", "user_id", userID, "err", err)
		return
	}
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint(r), "101").Inc()

	c := hub.NewConn(h.idle)
	if err := c.Open(ws); err != nil {
		c.Fail(err)
		ws.Close()
		return
	}
	h.hub.Attach(userID, c)
}

// Agent upgrades the request into an ingest channel for one agent.
func (h *WSHandler) Agent(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint(r), "400").Inc()
		slog.Warn("agent upgrade failed", "err", err)
		return
	}
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint(r), "101").Inc()
	_ = ingest.ServeAgent(ws, h.sink, h.idle, maxAgentFrame)
}
