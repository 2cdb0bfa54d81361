// Package ingest receives agent readings over MQTT and websockets and feeds
// the paired records to the analytics engine.
package ingest

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"road-telemetry-hub/metrics"
	"road-telemetry-hub/models"
	"road-telemetry-hub/pairing"
)

// Sink consumes combined records. analytics.Engine implements it.
// Acquire and Release bracket the records one connection feeds for a user.
type Sink interface {
	Submit(rec models.CombinedRecord) bool
	Acquire(userID int)
	Release(userID int)
}

// Session is the ingest state of one agent connection: its pairing buffer
// and the users it has produced records for.
type Session struct {
	id        string
	transport string
	sink      Sink

	mu     sync.Mutex
	buffer *pairing.Buffer
	users  map[int]struct{}
	closed bool
}

func NewSession(transport string, sink Sink) *Session {
	s := &Session{
		id:        uuid.NewString(),
		transport: transport,
		sink:      sink,
		users:     make(map[int]struct{}),
	}
	s.buffer = pairing.NewBuffer(func(k pairing.Kind) {
		metrics.PendingOverwritesTotal.WithLabelValues(k.String()).Inc()
		slog.Debug("pending reading replaced", "conn", s.id, "kind", k)
	})
	metrics.AgentConnections.WithLabelValues(transport).Inc()
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Handle decodes one payload and feeds it to the pairing buffer. Invalid
// payloads are logged and returned; they leave the buffer untouched.
func (s *Session) Handle(hint pairing.Kind, payload []byte) error {
	msg, err := pairing.Decode(hint, payload)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(hint.String(), "rejected").Inc()
		slog.Warn("rejected agent message", "conn", s.id, "transport", s.transport, "err", err)
		return err
	}
	metrics.MessagesTotal.WithLabelValues(msg.Kind.String(), "accepted").Inc()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	rec, ok := s.buffer.Submit(msg)
	if ok {
		if _, seen := s.users[rec.Agent.UserID]; !seen {
			s.users[rec.Agent.UserID] = struct{}{}
			s.sink.Acquire(rec.Agent.UserID)
		}
	}
	s.mu.Unlock()

	if ok {
		metrics.PairsTotal.Inc()
		if !s.sink.Submit(rec) {
			metrics.RecordsDroppedTotal.Inc()
		}
	}
	return nil
}

// Close releases every user seen on this connection. A user's partial batch
// is flushed once no other connection feeds it.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.buffer.Reset()
	users := make([]int, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	for _, u := range users {
		s.sink.Release(u)
	}
	metrics.AgentConnections.WithLabelValues(s.transport).Dec()
}

var errSessionClosed = errors.New("session closed")
