package interfaces

import (
	"context"

	"backchannel/pkg/types"
)

// MessageStore handles room and message persistence. Message content is
// encrypted with the room-derived key on Save and only ever stored as
// ciphertext.
type MessageStore interface {
	// EnsureRoom returns the room for an unordered pair of identities,
	// creating it on first contact. Rooms are never deleted.
	EnsureRoom(ctx context.Context, a, b string) (*types.Room, error)

	// Save encrypts plaintext under the room's derived key, persists
	// ciphertext plus metadata and returns the stored record including
	// its generated timestamp.
	Save(ctx context.Context, room *types.Room, session *types.Session, sender, plaintext string) (*types.ChatMessage, error)

	// LoadHistory returns every message belonging to a closed session of
	// the room, ordered by session start time then message timestamp.
	// Each message carries its session window for the history frame.
	LoadHistory(ctx context.Context, room *types.Room) ([]*types.ChatMessage, error)

	// LoadOpenBacklog returns all messages of one session in timestamp
	// order.
	LoadOpenBacklog(ctx context.Context, session *types.Session) ([]*types.ChatMessage, error)

	// Decrypt recovers a message's plaintext. Fails with
	// ErrDecryptionFailure when no configured key opens the ciphertext;
	// callers render a placeholder instead of aborting replay.
	Decrypt(room *types.Room, msg *types.ChatMessage) (string, error)

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the database.
	Close() error
}

// SessionStore is the persistence boundary for conversation session
// windows. OpenSession must be atomic: concurrent calls for the same
// room never produce two open sessions.
type SessionStore interface {
	// OpenSession returns the room's open session, creating one with a
	// single conditional insert when none exists.
	OpenSession(ctx context.Context, room *types.Room) (*types.Session, error)

	// CloseSession stamps the session's end time. Closing an already
	// closed session is a no-op.
	CloseSession(ctx context.Context, session *types.Session) error
}

// Directory resolves identities to real accounts. The gateway consults
// it before letting two parties chat.
type Directory interface {
	UserExists(ctx context.Context, username string) (bool, error)
}
