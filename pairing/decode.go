package pairing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"road-telemetry-hub/models"
)

// trafficKey identifies legacy traffic payloads that carry no envelope.
var trafficKey = []byte(`"vehicle_count"`)

// envelope is the tagged wire form: {"type":"traffic","data":{...}}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func ParseKind(s string) Kind {
	switch s {
	case "telemetry", "agent":
		return KindTelemetry
	case "traffic":
		return KindTraffic
	}
	return KindUnknown
}

// Decode parses and validates one inbound payload. A tagged envelope decides
// the kind; otherwise a known hint (for example the MQTT topic the payload
// arrived on) does, and untagged payloads without a hint fall back to sniffing
// for the traffic field. A telemetry payload that happens to contain a
// "vehicle_count" key is misrouted by the fallback.
func Decode(hint Kind, payload []byte) (Message, error) {
	kind, body := hint, payload
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Type != "" {
		kind = ParseKind(env.Type)
		if kind == KindUnknown {
			return Message{}, &models.ValidationError{Field: "type", Reason: "unknown message type " + env.Type}
		}
		body = env.Data
	} else if kind == KindUnknown {
		if bytes.Contains(payload, trafficKey) {
			kind = KindTraffic
		} else {
			kind = KindTelemetry
		}
	}

	switch kind {
	case KindTraffic:
		var t models.TrafficData
		if err := decodeStrict(body, &t); err != nil {
			return Message{}, err
		}
		if err := t.Validate(); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindTraffic, Traffic: &t}, nil
	default:
		var a models.AgentData
		if err := decodeStrict(body, &a); err != nil {
			return Message{}, err
		}
		if err := a.Validate(); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindTelemetry, Agent: &a}, nil
	}
}

func decodeStrict(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &models.ValidationError{Field: "payload", Reason: "is empty"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return &models.ValidationError{Field: "payload", Reason: fmt.Sprintf("malformed json: %v", err)}
	}
	return nil
}
