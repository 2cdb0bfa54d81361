package analytics

import (
	"math"
	"time"

	"road-telemetry-hub/models"
)

// DefaultKmPerUnit converts a coordinate-space distance to kilometers. The
// value is an empirical approximation that existing clients rely on.
const DefaultKmPerUnit = 91.4

const (
	DefaultExpectedBatch = 5
	DefaultPollInterval  = 5 * time.Second
)

type TripConfig struct {
	// ExpectedBatch is the size of a full batch; a shorter batch means the
	// stream went idle.
	ExpectedBatch int
	// PollInterval is the time credited to the trip for every full batch.
	PollInterval time.Duration
	KmPerUnit    float64
}

func (c *TripConfig) applyDefaults() {
	if c.ExpectedBatch <= 0 {
		c.ExpectedBatch = DefaultExpectedBatch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.KmPerUnit <= 0 {
		c.KmPerUnit = DefaultKmPerUnit
	}
}

type TripSummary struct {
	DistanceKm      float64
	AverageSpeedKmh float64
}

type TripUpdate struct {
	// Start is set exactly once, for the first point of the trip.
	Start   *models.Point
	Summary *TripSummary
}

// TripTracker accumulates the distance and duration of one trip across
// batches. It is not safe for concurrent use.
type TripTracker struct {
	cfg       TripConfig
	startSeen bool
	started   bool
	distances []float64
	elapsed   time.Duration
}

func NewTripTracker(cfg TripConfig) *TripTracker {
	cfg.applyDefaults()
	return &TripTracker{cfg: cfg}
}

// Observe folds one batch into the trip. Full batches, and any batch before
// the trip has started, add their point-to-point distances and one poll
// interval. A short batch after the start only reports the summary.
func (t *TripTracker) Observe(points []models.Point) TripUpdate {
	var upd TripUpdate

	if len(points) != t.cfg.ExpectedBatch && t.started {
		s := t.Summary()
		upd.Summary = &s
	} else if len(points) > 0 {
		for i := 0; i+1 < len(points); i++ {
			t.distances = append(t.distances, distance(points[i], points[i+1]))
		}
		t.elapsed += t.cfg.PollInterval
		t.started = true
	}

	if !t.startSeen && len(points) > 0 {
		start := points[0]
		upd.Start = &start
		t.startSeen = true
	}
	return upd
}

func (t *TripTracker) Summary() TripSummary {
	var sum float64
	for _, d := range t.distances {
		sum += d
	}
	km := sum * t.cfg.KmPerUnit

	var speed float64
	if hours := t.elapsed.Seconds() / 3600; hours > 0 {
		speed = km / hours
	}
	return TripSummary{
		DistanceKm:      round3(km),
		AverageSpeedKmh: round3(speed),
	}
}

func (t *TripTracker) Elapsed() time.Duration {
	return t.elapsed
}

func distance(a, b models.Point) float64 {
	return math.Hypot(b.Longitude-a.Longitude, b.Latitude-a.Latitude)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
