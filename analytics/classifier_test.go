package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry-hub/models"
)

func pointsFrom(longitudes, accelY []float64) []models.Point {
	points := make([]models.Point, len(longitudes))
	for i := range longitudes {
		points[i] = models.Point{Longitude: longitudes[i], Latitude: 50, AccelY: accelY[i]}
	}
	return points
}

func TestClassifyBumpAndPothole(t *testing.T) {
	points := pointsFrom(
		[]float64{30.1, 30.2, 30.3, 30.4, 30.5},
		[]float64{0.1, 0.9, -0.5, 0.2, 0.0},
	)

	cls := NewClassifier(0).Classify(points)

	assert.Equal(t, []models.RoadState{
		models.RoadNormal, models.RoadBump, models.RoadPothole, models.RoadNormal, models.RoadNormal,
	}, cls.States)
	assert.Equal(t, 1, cls.Bump)
	assert.Equal(t, 2, cls.Pothole)
	assert.False(t, cls.TrafficLight)
}

func TestClassifyRepeatedLongitude(t *testing.T) {
	points := pointsFrom(
		[]float64{1, 2, 2, 3},
		[]float64{5, -5, 0, 1},
	)

	cls := NewClassifier(0).Classify(points)

	require.True(t, cls.TrafficLight)
	assert.Equal(t, models.RoadTrafficLight, cls.States[0])
	for _, s := range cls.States[1:] {
		assert.Equal(t, models.RoadNormal, s)
	}
	assert.Equal(t, -1, cls.Bump)
	assert.Equal(t, -1, cls.Pothole)
}

func TestClassifyEdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		points      []models.Point
		wantBump    int
		wantPothole int
	}{
		{"empty", nil, -1, -1},
		{"single point", pointsFrom([]float64{1}, []float64{0.4}), -1, -1},
		{"flat signal", pointsFrom([]float64{1, 2, 3}, []float64{0.2, 0.2, 0.2}), -1, -1},
		{"tie goes to later max", pointsFrom([]float64{1, 2, 3, 4}, []float64{0.9, -0.1, 0.9, 0}), 2, 1},
		{"tie goes to later min", pointsFrom([]float64{1, 2, 3, 4}, []float64{-0.3, 0.5, 0, -0.3}), 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := NewClassifier(0).Classify(tt.points)
			assert.Equal(t, tt.wantBump, cls.Bump)
			assert.Equal(t, tt.wantPothole, cls.Pothole)
			assert.Len(t, cls.States, len(tt.points))
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	points := pointsFrom(
		[]float64{30.1, 30.2, 30.3, 30.4, 30.5},
		[]float64{0.3, -0.2, 0.8, 0.1, -0.9},
	)
	c := NewClassifier(0)
	assert.Equal(t, c.Classify(points), c.Classify(points))
}

func TestClassifyCongested(t *testing.T) {
	points := pointsFrom([]float64{1, 2, 3}, []float64{0, 1, -1})
	points[0].VehicleCount = 7
	points[2].VehicleCount = 6

	assert.True(t, NewClassifier(6).Classify(points).Congested)
	assert.False(t, NewClassifier(8).Classify(points).Congested)

	points[2].VehicleCount = 1
	assert.False(t, NewClassifier(6).Classify(points).Congested)
}
