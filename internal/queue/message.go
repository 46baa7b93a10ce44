package queue

import (
	"encoding/json"
	"fmt"
)

const (
	envelopeVersion = 1
	typeReady       = "READY"
)

// envelope is the wire format of one queued notification. Versioned so a
// rolling upgrade can skip messages it does not understand.
type envelope struct {
	Version int          `json:"version"`
	Type    string       `json:"type"`
	Payload readyPayload `json:"payload"`
}

type readyPayload struct {
	FlightID string `json:"flight_id"`
}

// EncodeReady builds the queue body announcing an unowned READY flight.
func EncodeReady(flightID string) (string, error) {
	raw, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Type:    typeReady,
		Payload: readyPayload{FlightID: flightID},
	})
	if err != nil {
		return "", fmt.Errorf("encode queue message: %w", err)
	}
	return string(raw), nil
}

func decodeEnvelope(body string) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}
	return &e, nil
}
