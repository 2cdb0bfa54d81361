// Package mapview turns the live stream of processed records for one user
// into map frames: track, road feature and car markers and trip totals.
package mapview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"road-telemetry-hub/models"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Datasource keeps a websocket subscription to the hub open and buffers the
// points it receives until the renderer pulls them.
type Datasource struct {
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex
	points []models.Point

	connected atomic.Bool
}

func NewDatasource(host string, port, userID int) *Datasource {
	return &Datasource{
		url:    fmt.Sprintf("ws://%s/ws/%d", net.JoinHostPort(host, strconv.Itoa(port)), userID),
		dialer: websocket.DefaultDialer,
	}
}

func (d *Datasource) URL() string {
	return d.url
}

// Connected reports whether the subscription is currently up.
func (d *Datasource) Connected() bool {
	return d.connected.Load()
}

// Run connects and reconnects until ctx is done. The retry delay doubles
// after every failed dial, up to a minute.
func (d *Datasource) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("dial failed", "url", d.url, "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		slog.Info("connected to hub", "url", d.url)
		d.connected.Store(true)
		err = d.consume(ctx, ws)
		d.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("hub connection closed", "url", d.url, "err", err)
	}
}

func (d *Datasource) consume(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()
	defer ws.Close()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if err := d.HandleMessage(payload); err != nil {
			slog.Warn("discarding message", "err", err)
		}
	}
}

// HandleMessage buffers the points of one pushed payload: an array of
// processed records, a single record, or either of those encoded once more
// as a JSON string.
func (d *Datasource) HandleMessage(payload []byte) error {
	var inner string
	if err := json.Unmarshal(payload, &inner); err == nil {
		payload = []byte(inner)
	}

	var batch []models.ProcessedAgentData
	if err := json.Unmarshal(payload, &batch); err != nil {
		var one models.ProcessedAgentData
		if err := json.Unmarshal(payload, &one); err != nil {
			return fmt.Errorf("decode processed data: %w", err)
		}
		batch = []models.ProcessedAgentData{one}
	}

	pts := make([]models.Point, 0, len(batch))
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return err
		}
		pts = append(pts, batch[i].Point())
	}

	d.mu.Lock()
	d.points = append(d.points, pts...)
	d.mu.Unlock()
	return nil
}

// GetNewPoints returns the buffered points newest first and empties the
// buffer. It never returns nil.
func (d *Datasource) GetNewPoints() []models.Point {
	d.mu.Lock()
	pts := d.points
	d.points = nil
	d.mu.Unlock()

	out := make([]models.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}
