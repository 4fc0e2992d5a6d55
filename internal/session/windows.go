package session

import (
	"context"
	"fmt"
	"log"

	"backchannel/pkg/interfaces"
	"backchannel/pkg/types"
)

// Windows owns the open/closed lifecycle of conversation sessions. A
// session is open while at least one participant is connected and is
// closed, with an end timestamp, when the last one leaves.
//
// The find-or-create is delegated to the store as one atomic
// conditional insert; Windows never does a read-then-write of its own,
// so concurrent connects for the same room converge on one session.
type Windows struct {
	store interfaces.SessionStore
}

// NewWindows creates a session window manager over the given store.
func NewWindows(store interfaces.SessionStore) *Windows {
	return &Windows{store: store}
}

// EnsureOpen returns the room's open session, creating one if none
// exists. Safe under concurrent invocation for the same room.
func (w *Windows) EnsureOpen(ctx context.Context, room *types.Room) (*types.Session, error) {
	session, err := w.store.OpenSession(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure open session for room %s: %w", room.Name, err)
	}
	return session, nil
}

// Close stamps the session's end time. Closing an already-closed
// session is a no-op, which guards against double-trigger from racing
// disconnects.
func (w *Windows) Close(ctx context.Context, session *types.Session) error {
	if err := w.store.CloseSession(ctx, session); err != nil {
		return fmt.Errorf("failed to close session %s: %w", session.ID, err)
	}
	log.Printf("Closed session: id=%s room=%s", session.ID, session.RoomID)
	return nil
}
