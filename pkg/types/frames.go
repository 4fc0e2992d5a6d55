package types

import (
	"encoding/json"
	"unicode/utf8"
)

// MaxMessageRunes is the longest inbound message accepted, counted in
// Unicode code points. Longer frames are dropped silently.
const MaxMessageRunes = 2048

// ChatFrame is the server-to-client shape for a chat message, both live
// and replayed. SessionRange is present only on history frames.
type ChatFrame struct {
	Message      string `json:"message"`
	Sender       string `json:"sender"`
	Timestamp    string `json:"timestamp"`
	History      bool   `json:"history"`
	SessionRange string `json:"session_range,omitempty"`
}

// NoHistoryFrame is sent exactly once, instead of any history frames,
// when the room has no closed sessions. It lets the client distinguish
// "no past conversations" from "still loading".
type NoHistoryFrame struct {
	History bool `json:"history"`
}

// NotifyFrame is the unread-message ping delivered on a user's personal
// group. It carries the sender identity only, never message content.
type NotifyFrame struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// NewNotifyFrame builds a notify frame for the given sender identity.
func NewNotifyFrame(from string) NotifyFrame {
	return NotifyFrame{Type: "notify", From: from}
}

// ParseInbound validates a raw client frame. The only accepted shape is
// a JSON object with a string "message" field of at most
// MaxMessageRunes code points. The second return is false for anything
// else: invalid JSON, missing field, non-string value, oversized text.
// Callers drop invalid frames without replying.
func ParseInbound(data []byte) (string, bool) {
	var frame struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", false
	}
	text, ok := frame.Message.(string)
	if !ok {
		return "", false
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", false
	}
	return text, true
}
