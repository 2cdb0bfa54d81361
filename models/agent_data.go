package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relvacode/iso8601"
)

// ErrValidation matches every ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type AccelerometerData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type GpsData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type TrafficData struct {
	VehicleCount int `json:"vehicle_count"`
}

func (t *TrafficData) Validate() error {
	if t.VehicleCount < 0 {
		return &ValidationError{Field: "vehicle_count", Reason: "must be non-negative"}
	}
	return nil
}

type AgentData struct {
	UserID        int               `json:"user_id"`
	Accelerometer AccelerometerData `json:"accelerometer"`
	GPS           GpsData           `json:"gps"`
	Timestamp     time.Time         `json:"timestamp"`
}

// UnmarshalJSON accepts any ISO 8601 timestamp, not only RFC 3339.
func (a *AgentData) UnmarshalJSON(b []byte) error {
	type plain AgentData
	var raw struct {
		plain
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = AgentData(raw.plain)
	if raw.Timestamp == nil {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	ts, err := iso8601.ParseString(*raw.Timestamp)
	if err != nil {
		return &ValidationError{
			Field:  "timestamp",
			Reason: "expected ISO 8601 format (YYYY-MM-DDTHH:MM:SSZ)",
		}
	}
	a.Timestamp = ts
	return nil
}

func (a *AgentData) Validate() error {
	if a.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	if a.GPS.Latitude < -90 || a.GPS.Latitude > 90 {
		return &ValidationError{Field: "gps.latitude", Reason: "must be between -90 and 90"}
	}
	if a.GPS.Longitude < -180 || a.GPS.Longitude > 180 {
		return &ValidationError{Field: "gps.longitude", Reason: "must be between -180 and 180"}
	}
	return nil
}

// CombinedRecord is one telemetry reading paired with one traffic reading.
type CombinedRecord struct {
	Agent   AgentData
	Traffic TrafficData
}

// Point projects a record onto the render plane.
func (r CombinedRecord) Point() Point {
	return Point{
		Longitude:    r.Agent.GPS.Longitude,
		Latitude:     r.Agent.GPS.Latitude,
		AccelY:       r.Agent.Accelerometer.Y,
		VehicleCount: r.Traffic.VehicleCount,
	}
}

func (r CombinedRecord) Classified(state RoadState) ProcessedAgentData {
	return ProcessedAgentData{
		RoadState:   state,
		AgentData:   r.Agent,
		TrafficData: r.Traffic,
	}
}
