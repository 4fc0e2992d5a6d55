package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the closed set of variants carried by the fan-out layer.
// Dispatch is by the wire envelope's kind tag; consumers type-switch
// over the two concrete types.
type Event interface {
	eventKind() string
}

// ChatEvent is a chat message broadcast to a room group. Every socket
// subscribed to the room receives it, the sender's included.
type ChatEvent struct {
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	History   bool      `json:"history"`
}

func (ChatEvent) eventKind() string { return "chat" }

// NotifyEvent is an unread-message ping published to the counterpart's
// personal group. It never carries message content.
type NotifyEvent struct {
	From string `json:"from"`
}

func (NotifyEvent) eventKind() string { return "notify" }

// eventEnvelope is the wire shape shared by all events.
type eventEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent serializes an event into its tagged envelope.
func EncodeEvent(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event.eventKind(), err)
	}
	return json.Marshal(eventEnvelope{Kind: event.eventKind(), Payload: payload})
}

// DecodeEvent parses a tagged envelope back into its concrete variant.
// Unknown kinds are an error so that skew between publisher and
// subscriber versions surfaces in logs instead of being misrouted.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}

	switch env.Kind {
	case "chat":
		var event ChatEvent
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return nil, fmt.Errorf("failed to parse chat event: %w", err)
		}
		return event, nil
	case "notify":
		var event NotifyEvent
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return nil, fmt.Errorf("failed to parse notify event: %w", err)
		}
		return event, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}
}
