package hub

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	Connecting State = iota
	Open
	// ClosedByPeer covers orderly closes from either side.
	ClosedByPeer
	ClosedByError
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedByPeer:
		return "closed_by_peer"
	case ClosedByError:
		return "closed_by_error"
	}
	return "unknown"
}

func (s State) Closed() bool {
	return s == ClosedByPeer || s == ClosedByError
}

const (
	writeWait         = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	maxKeepAliveFrame = 4096
)

// Conn is a websocket subscriber. It holds at most one unsent payload: a
// newer payload replaces an older one that the writer has not picked up yet,
// so a slow client only ever receives the current state.
type Conn struct {
	id          string
	ws          *websocket.Conn
	idleTimeout time.Duration

	state     atomic.Int32
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn returns a subscriber in the Connecting state. idleTimeout bounds
// the time without any frame from the client; zero disables it.
func NewConn(idleTimeout time.Duration) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		idleTimeout: idleTimeout,
		outbox:      make(chan []byte, 1),
		done:        make(chan struct{}),
	}
	c.state.Store(int32(Connecting))
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection reaches a closed state.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Open completes the handshake with an upgraded websocket.
func (c *Conn) Open(ws *websocket.Conn) error {
	if c.State() != Connecting {
		return ErrSubscriberClosed
	}
	c.ws = ws
	if !c.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		return ErrSubscriberClosed
	}
	return nil
}

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Fail moves a connection that never opened to ClosedByError.
func (c *Conn) Fail(err error) {
	c.finish(ClosedByError, err)
}

// Send queues payload for delivery. It never blocks.
func (c *Conn) Send(payload []byte) error {
	if c.State() != Open {
		return ErrSubscriberClosed
	}
	select {
	case c.outbox <- payload:
		return nil
	default:
	}
	// Replace the stale payload.
	select {
	case <-c.outbox:
	default:
	}
	select {
	case c.outbox <- payload:
	default:
	}
	return nil
}

// Close closes the connection with a normal close frame.
func (c *Conn) Close() error {
	c.finish(ClosedByPeer, nil)
	return nil
}

// Run pumps the connection until it closes. Client frames are read and
// discarded; they only keep the connection alive.
func (c *Conn) Run() {
	if c.State() != Open {
		return
	}
	go c.writePump()
	c.readPump()
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxKeepAliveFrame)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if isPeerClose(err) {
				c.finish(ClosedByPeer, nil)
			} else {
				c.finish(ClosedByError, err)
			}
			return
		}
		c.extendDeadline()
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.outbox:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.finish(ClosedByError, err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.finish(ClosedByError, err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingPeriod() time.Duration {
	if c.idleTimeout > 0 {
		return c.idleTimeout * 9 / 10
	}
	return defaultPingPeriod
}

func (c *Conn) extendDeadline() {
	if c.idleTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
}

func (c *Conn) finish(state State, err error) {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(state)))
		c.closeErr = err
		close(c.done)

		if c.ws != nil && prev == Open {
			code := websocket.CloseNormalClosure
			if state == ClosedByError {
				code = websocket.CloseInternalServerErr
			}
			msg := websocket.FormatCloseMessage(code, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
		if err != nil {
			slog.Debug("subscriber connection closed", "conn", c.id, "state", state, "err", err)
		}
	})
}

func isPeerClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// Attach registers c for userID, pumps it until it closes and unregisters it.
func (h *Hub) Attach(userID int, c *Conn) {
	h.registry.Register(userID, c)
	slog.Info("subscriber connected", "user_id", userID, "conn", c.ID())
	defer func() {
		h.registry.Unregister(userID, c)
		slog.Info("subscriber disconnected", "user_id", userID, "conn", c.ID(), "state", c.State())
	}()
	c.Run()
}
