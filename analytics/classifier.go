package analytics

import (
	"road-telemetry-hub/models"
)

// DefaultCongestionThreshold is the vehicle count from which a segment is
// drawn as congested.
const DefaultCongestionThreshold = 6

type Classification struct {
	States []models.RoadState
	// Bump and Pothole are indexes into the batch, -1 when not assigned.
	Bump    int
	Pothole int
	// TrafficLight is set when the vehicle did not move within the batch.
	TrafficLight bool
	// Congested is set when both ends of the batch report heavy traffic.
	Congested bool
}

type Classifier struct {
	CongestionThreshold int
}

func NewClassifier(congestionThreshold int) Classifier {
	if congestionThreshold <= 0 {
		congestionThreshold = DefaultCongestionThreshold
	}
	return Classifier{CongestionThreshold: congestionThreshold}
}

// Classify labels every point of the batch. A repeated longitude means the
// vehicle stood still, so only the first point is labeled traffic_light.
// Otherwise the highest accel_y is a bump and the lowest a pothole, with ties
// going to the later point.
func (c Classifier) Classify(points []models.Point) Classification {
	cls := Classification{Bump: -1, Pothole: -1}
	if len(points) == 0 {
		return cls
	}

	cls.States = make([]models.RoadState, len(points))
	for i := range cls.States {
		cls.States[i] = models.RoadNormal
	}

	threshold := c.CongestionThreshold
	if threshold <= 0 {
		threshold = DefaultCongestionThreshold
	}
	cls.Congested = points[0].VehicleCount >= threshold &&
		points[len(points)-1].VehicleCount >= threshold

	if stationary(points) {
		cls.TrafficLight = true
		cls.States[0] = models.RoadTrafficLight
		return cls
	}

	bump, pothole := 0, 0
	for i, p := range points {
		if p.AccelY >= points[bump].AccelY {
			bump = i
		}
		if p.AccelY <= points[pothole].AccelY {
			pothole = i
		}
	}
	// A single point or a flat signal has nothing to tell apart.
	if bump == pothole {
		return cls
	}

	cls.Bump, cls.Pothole = bump, pothole
	cls.States[bump] = models.RoadBump
	cls.States[pothole] = models.RoadPothole
	return cls
}

func stationary(points []models.Point) bool {
	seen := make(map[float64]struct{}, len(points))
	for _, p := range points {
		seen[p.Longitude] = struct{}{}
	}
	return len(seen) < len(points)
}
