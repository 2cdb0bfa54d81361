package mapview

import (
	"log/slog"

	"road-telemetry-hub/analytics"
	"road-telemetry-hub/models"
)

type MarkerKind string

const (
	MarkerStart          MarkerKind = "start"
	MarkerTrack          MarkerKind = "track"
	MarkerCongestedTrack MarkerKind = "congested_track"
	MarkerBump           MarkerKind = "bump"
	MarkerPothole        MarkerKind = "pothole"
	MarkerTrafficLight   MarkerKind = "traffic_light"
	MarkerCar            MarkerKind = "car"
)

type Marker struct {
	Kind      MarkerKind `json:"kind"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
}

func markerAt(kind MarkerKind, p models.Point) Marker {
	return Marker{Kind: kind, Latitude: p.Latitude, Longitude: p.Longitude}
}

// Frame is what the renderer draws after one poll. Markers accumulate on
// the map; Car replaces the previous car marker.
type Frame struct {
	Markers []Marker               `json:"markers"`
	Car     *Marker                `json:"car,omitempty"`
	Summary *analytics.TripSummary `json:"summary,omitempty"`
}

func (f Frame) Empty() bool {
	return len(f.Markers) == 0 && f.Car == nil && f.Summary == nil
}

func (f Frame) LogValue() slog.Value {
	counts := make(map[MarkerKind]int)
	for _, m := range f.Markers {
		counts[m.Kind]++
	}
	attrs := make([]slog.Attr, 0, len(counts)+3)
	for kind, n := range counts {
		attrs = append(attrs, slog.Int(string(kind), n))
	}
	if f.Car != nil {
		attrs = append(attrs, slog.Group("car",
			slog.Float64("lat", f.Car.Latitude), slog.Float64("lon", f.Car.Longitude)))
	}
	if f.Summary != nil {
		attrs = append(attrs,
			slog.Float64("distance_km", f.Summary.DistanceKm),
			slog.Float64("avg_speed_kmh", f.Summary.AverageSpeedKmh))
	}
	return slog.GroupValue(attrs...)
}

// Planner turns pulled points into frames. It owns the trip state of one
// user and is not safe for concurrent use.
type Planner struct {
	classifier analytics.Classifier
	trip       *analytics.TripTracker
}

func NewPlanner(trip analytics.TripConfig, congestionThreshold int) *Planner {
	return &Planner{
		classifier: analytics.NewClassifier(congestionThreshold),
		trip:       analytics.NewTripTracker(trip),
	}
}

// Plan builds the frame for one poll. newestFirst is the sequence returned
// by Datasource.GetNewPoints; it is replayed oldest first, so the start and
// traffic light markers land on the oldest point and the car on the newest.
// Renderers that walk the pulled sequence in pull order get the opposite:
// the start marker on the newest point and the car on the oldest.
func (p *Planner) Plan(newestFirst []models.Point) Frame {
	points := make([]models.Point, len(newestFirst))
	for i, pt := range newestFirst {
		points[len(points)-1-i] = pt
	}

	var f Frame
	upd := p.trip.Observe(points)
	f.Summary = upd.Summary
	if upd.Start != nil {
		f.Markers = append(f.Markers, markerAt(MarkerStart, *upd.Start))
	}
	if len(points) == 0 {
		return f
	}

	cls := p.classifier.Classify(points)
	if cls.TrafficLight {
		f.Markers = append(f.Markers, markerAt(MarkerTrafficLight, points[0]))
		return f
	}

	track := MarkerTrack
	if cls.Congested {
		track = MarkerCongestedTrack
	}
	for i, pt := range points {
		f.Markers = append(f.Markers, markerAt(track, pt))
		switch cls.States[i] {
		case models.RoadBump:
			f.Markers = append(f.Markers, markerAt(MarkerBump, pt))
		case models.RoadPothole:
			f.Markers = append(f.Markers, markerAt(MarkerPothole, pt))
		}
	}
	car := markerAt(MarkerCar, points[len(points)-1])
	f.Car = &car
	return f
}

// Trip returns the running trip totals.
func (p *Planner) Trip() analytics.TripSummary {
	return p.trip.Summary()
}
