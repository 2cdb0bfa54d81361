package ingest

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"road-telemetry-hub/pairing"
)

// ServeAgent reads agent messages from ws until the peer goes away or stays
// silent longer than idle. Each frame is one envelope or legacy payload.
func ServeAgent(ws *websocket.Conn, sink Sink, idle time.Duration, maxFrame int64) error {
	session := NewSession("websocket", sink)
	defer session.Close()
	defer ws.Close()

	if maxFrame > 0 {
		ws.SetReadLimit(maxFrame)
	}
	slog.Info("agent connected", "conn", session.ID(), "remote_addr", ws.RemoteAddr())

	for {
		if idle > 0 {
			ws.SetReadDeadline(time.Now().Add(idle))
		}
		mt, payload, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Info("agent disconnected", "conn", session.ID())
				return nil
			}
			slog.Info("agent connection closed", "conn", session.ID(), "err", err)
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = session.Handle(pairing.KindUnknown, payload)
	}
}
