package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry-hub/models"
)

func line(n int, from float64) []models.Point {
	points := make([]models.Point, n)
	for i := range points {
		points[i] = models.Point{Longitude: from + float64(i)*0.001, Latitude: 50}
	}
	return points
}

func TestTripStartMarkedOnce(t *testing.T) {
	tr := NewTripTracker(TripConfig{})

	upd := tr.Observe(nil)
	assert.Nil(t, upd.Start)
	assert.Nil(t, upd.Summary)

	first := line(5, 30)
	upd = tr.Observe(first)
	require.NotNil(t, upd.Start)
	assert.Equal(t, first[0], *upd.Start)

	upd = tr.Observe(line(5, 30.005))
	assert.Nil(t, upd.Start)
}

func TestTripSummaryOnShortBatch(t *testing.T) {
	tr := NewTripTracker(TripConfig{ExpectedBatch: 5, PollInterval: 5 * time.Second})

	tr.Observe(line(5, 30))
	tr.Observe(line(5, 30.004))
	assert.Equal(t, 10*time.Second, tr.Elapsed())

	upd := tr.Observe(line(2, 30.008))
	require.NotNil(t, upd.Summary)

	// 8 steps of 0.001 units, 10 seconds.
	wantKm := 8 * 0.001 * DefaultKmPerUnit
	assert.InDelta(t, wantKm, upd.Summary.DistanceKm, 0.001)
	assert.InDelta(t, wantKm/(10.0/3600), upd.Summary.AverageSpeedKmh, 0.001)

	// Short batches do not accumulate.
	assert.Equal(t, 10*time.Second, tr.Elapsed())
}

func TestTripEmptyBatchDoesNotUpdate(t *testing.T) {
	tr := NewTripTracker(TripConfig{})
	tr.Observe(line(5, 30))
	before := tr.Summary()

	upd := tr.Observe(nil)
	require.NotNil(t, upd.Summary)
	assert.Equal(t, before, *upd.Summary)
	assert.Equal(t, DefaultPollInterval, tr.Elapsed())
}

func TestTripFirstShortBatchAccumulates(t *testing.T) {
	tr := NewTripTracker(TripConfig{})

	upd := tr.Observe(line(3, 30))
	assert.Nil(t, upd.Summary)
	assert.Equal(t, DefaultPollInterval, tr.Elapsed())
}

func TestTripZeroElapsed(t *testing.T) {
	tr := NewTripTracker(TripConfig{})
	assert.Equal(t, TripSummary{}, tr.Summary())
}
