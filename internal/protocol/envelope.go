package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame wraps every decode failure. Routers log and drop such frames.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the wire shape of every bus frame and API response.
type Envelope struct {
	Step    Step            `json:"step"`
	Status  Status          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Failed reports whether the sender flagged the frame as a failure.
func (e Envelope) Failed() bool {
	return e.Status == StatusFailed
}

// Decode validates a raw frame and decodes its payload into a typed Event.
// Unknown steps decode to Raw. A missing payload is treated as an empty object.
func Decode(data []byte) (Envelope, Event, error) {
	if err := Validate(data); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	ev, err := DecodePayload(env.Step, env.Payload)
	if err != nil {
		return env, nil, err
	}
	return env, ev, nil
}

// DecodePayload decodes a payload for the given step.
func DecodePayload(step Step, payload json.RawMessage) (Event, error) {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = json.RawMessage("{}")
	}
	decode, ok := decoders[step]
	if !ok {
		return Raw{Kind: step, Payload: payload}, nil
	}
	ev, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, step, err)
	}
	return ev, nil
}

// Encode builds a frame. payload may be nil, an Event, a json.RawMessage or any JSON-marshalable value.
func Encode(step Step, status Status, payload any) ([]byte, error) {
	env := Envelope{Step: step, Status: status}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		env.Payload = p
	case Raw:
		env.Payload = p.Payload
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", step, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// EncodeEvent builds a successful frame for ev.
func EncodeEvent(ev Event) ([]byte, error) {
	return Encode(ev.Step(), StatusSuccess, ev)
}
