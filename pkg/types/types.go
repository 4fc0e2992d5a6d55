package types

import (
	"sort"
	"strings"
	"time"
)

// RoomPrefix is the leading component of every canonical room name.
const RoomPrefix = "private"

// FrameTimestampLayout is the wall-clock format used in frames sent to
// clients. History replay and live messages share the same layout.
const FrameTimestampLayout = "2006-01-02 15:04"

// Room identifies an unordered pair of chat participants. Rooms are
// created lazily on first contact and never deleted, so history
// survives both parties disconnecting.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Session is a time-bounded window of activity inside one room. A nil
// EndedAt means the session is open; at most one open session exists
// per room at any instant.
type Session struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// ChatMessage is one stored message. Content is kept only as
// ciphertext; plaintext never touches the database. When loaded from
// closed-session history, SessionStartedAt/SessionEndedAt carry the
// owning session's window for the session_range annotation.
type ChatMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Sender     string    `json:"sender"`
	Ciphertext []byte    `json:"-"`
	Timestamp  time.Time `json:"timestamp"`

	SessionStartedAt time.Time  `json:"-"`
	SessionEndedAt   *time.Time `json:"-"`
}

// SessionRange renders the owning session's window in the form history
// frames carry. Empty when the session window is unknown or still
// open.
func (m *ChatMessage) SessionRange() string {
	if m.SessionStartedAt.IsZero() || m.SessionEndedAt == nil {
		return ""
	}
	return m.SessionStartedAt.Format(FrameTimestampLayout) + " → " + m.SessionEndedAt.Format(FrameTimestampLayout)
}

// CanonicalRoomName computes the deterministic, order-independent room
// name for a pair of identities: both sides lowercased, sorted, then
// joined as private_<a>_<b>. CanonicalRoomName(a, b) always equals
// CanonicalRoomName(b, a).
func CanonicalRoomName(a, b string) string {
	pair := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(pair)
	return RoomPrefix + "_" + pair[0] + "_" + pair[1]
}
