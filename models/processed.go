package models

import "time"

type RoadState string

const (
	RoadNormal       RoadState = "normal"
	RoadBump         RoadState = "bump"
	RoadPothole      RoadState = "pothole"
	RoadTrafficLight RoadState = "traffic_light"
)

func (s RoadState) Valid() bool {
	switch s {
	case RoadNormal, RoadBump, RoadPothole, RoadTrafficLight:
		return true
	}
	return false
}

// ProcessedAgentData is the classified record as it travels over the wire.
type ProcessedAgentData struct {
	RoadState   RoadState   `json:"road_state"`
	AgentData   AgentData   `json:"agent_data"`
	TrafficData TrafficData `json:"traffic_data"`
}

func (p *ProcessedAgentData) Validate() error {
	if !p.RoadState.Valid() {
		return &ValidationError{Field: "road_state", Reason: "unknown value " + string(p.RoadState)}
	}
	if err := p.AgentData.Validate(); err != nil {
		return err
	}
	return p.TrafficData.Validate()
}

func (p ProcessedAgentData) Point() Point {
	return CombinedRecord{Agent: p.AgentData, Traffic: p.TrafficData}.Point()
}

// StoredRecord is a persisted row. Timestamp is assigned by the server.
type StoredRecord struct {
	ID           int64     `json:"id"`
	RoadState    RoadState `json:"road_state"`
	UserID       int       `json:"user_id"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Z            float64   `json:"z"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
	VehicleCount int       `json:"vehicle_count"`
}

func NewStoredRecord(p ProcessedAgentData, ts time.Time) StoredRecord {
	return StoredRecord{
		RoadState:    p.RoadState,
		UserID:       p.AgentData.UserID,
		X:            p.AgentData.Accelerometer.X,
		Y:            p.AgentData.Accelerometer.Y,
		Z:            p.AgentData.Accelerometer.Z,
		Latitude:     p.AgentData.GPS.Latitude,
		Longitude:    p.AgentData.GPS.Longitude,
		Timestamp:    ts,
		VehicleCount: p.TrafficData.VehicleCount,
	}
}

// Point is the render-plane projection of a record.
type Point struct {
	Longitude    float64 `json:"longitude"`
	Latitude     float64 `json:"latitude"`
	AccelY       float64 `json:"accel_y"`
	VehicleCount int     `json:"vehicle_count"`
}
