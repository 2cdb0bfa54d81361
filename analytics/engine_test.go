package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry-hub/models"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]models.ProcessedAgentData
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, records []models.ProcessedAgentData) ([]models.StoredRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.batches = append(p.batches, records)
	return nil, nil
}

func (p *recordingPublisher) snapshot() [][]models.ProcessedAgentData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]models.ProcessedAgentData(nil), p.batches...)
}

func record(user int, lon, y float64) models.CombinedRecord {
	return models.CombinedRecord{
		Agent: models.AgentData{
			UserID:        user,
			Accelerometer: models.AccelerometerData{Y: y},
			GPS:           models.GpsData{Latitude: 50, Longitude: lon},
			Timestamp:     time.Now(),
		},
		Traffic: models.TrafficData{VehicleCount: 2},
	}
}

func TestEngineClassifiesFullBatches(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(context.Background(), pub, Config{BatchSize: 5})

	accel := []float64{0.1, 0.9, -0.5, 0.2, 0.0}
	for i, y := range accel {
		require.True(t, e.Submit(record(1, 30+float64(i)*0.001, y)))
	}
	e.Close()

	batches := pub.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 5)
	assert.Equal(t, models.RoadBump, batches[0][1].RoadState)
	assert.Equal(t, models.RoadPothole, batches[0][2].RoadState)
	assert.Equal(t, models.RoadNormal, batches[0][0].RoadState)
}

func TestEnginePreservesOrderPerUser(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(context.Background(), pub, Config{BatchSize: 3, Workers: 4})

	for i := 0; i < 9; i++ {
		e.Submit(record(1, float64(i), 0))
		e.Submit(record(2, float64(i), 0))
	}
	e.Close()

	seen := map[int][]float64{}
	for _, b := range pub.snapshot() {
		for _, r := range b {
			seen[r.AgentData.UserID] = append(seen[r.AgentData.UserID], r.AgentData.GPS.Longitude)
		}
	}
	want := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, want, seen[1])
	assert.Equal(t, want, seen[2])
}

func TestEngineFlushPartialBatch(t *testing.T) {
	pub := &recordingPublisher{}
	var mu sync.Mutex
	var calls []int
	e := NewEngine(context.Background(), pub, Config{
		BatchSize: 5,
		OnBatch: func(userID int, _ Classification) {
			mu.Lock()
			calls = append(calls, userID)
			mu.Unlock()
		},
	})
	defer e.Close()

	e.Submit(record(9, 1, 0.5))
	e.Submit(record(9, 2, -0.5))
	e.Flush(9)

	batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)

	// Flushing an empty window publishes nothing.
	e.Flush(9)
	assert.Len(t, pub.snapshot(), 1)

	mu.Lock()
	assert.Equal(t, []int{9}, calls)
	mu.Unlock()
}

func TestEngineReleaseFlushesOnLastHolder(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(context.Background(), pub, Config{BatchSize: 5})
	defer e.Close()

	e.Acquire(3)
	e.Acquire(3)
	e.Submit(record(3, 1, 0.5))
	e.Submit(record(3, 2, -0.5))

	e.Release(3)
	e.Flush(4)
	assert.Empty(t, pub.snapshot(), "another connection still feeds the user")

	e.Release(3)
	batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestEngineSubmitAfterClose(t *testing.T) {
	e := NewEngine(context.Background(), &recordingPublisher{}, Config{})
	e.Close()
	e.Close()
	assert.False(t, e.Submit(record(1, 1, 1)))
	e.Flush(1)
}

func TestEnginePublishErrorIsContained(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("disk full")}
	e := NewEngine(context.Background(), pub, Config{BatchSize: 1})
	assert.True(t, e.Submit(record(1, 1, 1)))
	assert.True(t, e.Submit(record(1, 2, 1)))
	e.Close()
	assert.Empty(t, pub.snapshot())
}

func TestWindow(t *testing.T) {
	w := NewWindow(2)
	_, full := w.Add(record(1, 1, 0))
	assert.False(t, full)
	assert.Equal(t, 1, w.Len())

	batch, full := w.Add(record(1, 2, 0))
	require.True(t, full)
	assert.Len(t, batch, 2)
	assert.Equal(t, 0, w.Len())
	assert.Nil(t, w.Drain())
}
