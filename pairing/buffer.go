// Package pairing correlates the telemetry and traffic streams of one agent
// connection into combined records.
package pairing

import (
	"road-telemetry-hub/models"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindTelemetry
	KindTraffic
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindTraffic:
		return "traffic"
	}
	return "unknown"
}

// Message is one decoded inbound reading. Exactly one of Agent and Traffic is
// set, matching Kind.
type Message struct {
	Kind    Kind
	Agent   *models.AgentData
	Traffic *models.TrafficData
}

// Buffer holds at most one pending reading. A reading of the same kind as the
// pending one replaces it; a reading of the other kind completes the pair.
// It is not safe for concurrent use; each connection owns its own Buffer.
type Buffer struct {
	pending   Kind
	agent     models.AgentData
	traffic   models.TrafficData
	overwrite func(Kind)
}

// NewBuffer returns an empty buffer. onOverwrite, if not nil, is called
// whenever a pending reading is replaced by a newer one of the same kind.
func NewBuffer(onOverwrite func(Kind)) *Buffer {
	return &Buffer{overwrite: onOverwrite}
}

// Submit adds m to the buffer and returns the combined record when m
// completes a pair.
func (b *Buffer) Submit(m Message) (models.CombinedRecord, bool) {
	if !m.valid() {
		return models.CombinedRecord{}, false
	}

	if b.pending == KindUnknown || b.pending == m.Kind {
		if b.pending == m.Kind && b.overwrite != nil {
			b.overwrite(m.Kind)
		}
		b.hold(m)
		return models.CombinedRecord{}, false
	}

	b.hold(m)
	rec := models.CombinedRecord{Agent: b.agent, Traffic: b.traffic}
	b.Reset()
	return rec, true
}

// Pending reports the kind of the held reading, KindUnknown when empty.
func (b *Buffer) Pending() Kind {
	return b.pending
}

// PendingUser returns the user of a held telemetry reading.
func (b *Buffer) PendingUser() (int, bool) {
	if b.pending != KindTelemetry {
		return 0, false
	}
	return b.agent.UserID, true
}

func (b *Buffer) Reset() {
	b.pending = KindUnknown
	b.agent = models.AgentData{}
	b.traffic = models.TrafficData{}
}

func (b *Buffer) hold(m Message) {
	switch m.Kind {
	case KindTelemetry:
		b.agent = *m.Agent
	case KindTraffic:
		b.traffic = *m.Traffic
	}
	if b.pending == KindUnknown || b.pending == m.Kind {
		b.pending = m.Kind
	}
}

func (m Message) valid() bool {
	switch m.Kind {
	case KindTelemetry:
		return m.Agent != nil
	case KindTraffic:
		return m.Traffic != nil
	}
	return false
}
