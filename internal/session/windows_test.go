package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"backchannel/pkg/types"
)

// mockSessionStore records calls so the tests can assert on delegation
// without a real database.
type mockSessionStore struct {
	openCalls  int
	closeCalls int
	session    *types.Session
	openErr    error
	closeErr   error
}

func (m *mockSessionStore) OpenSession(_ context.Context, room *types.Room) (*types.Session, error) {
	m.openCalls++
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.session == nil {
		m.session = &types.Session{ID: "s1", RoomID: room.ID, StartedAt: time.Now()}
	}
	return m.session, nil
}

func (m *mockSessionStore) CloseSession(_ context.Context, session *types.Session) error {
	m.closeCalls++
	if m.closeErr != nil {
		return m.closeErr
	}
	if session.EndedAt == nil {
		now := time.Now()
		session.EndedAt = &now
	}
	return nil
}

func TestWindows_EnsureOpen(t *testing.T) {
	store := &mockSessionStore{}
	windows := NewWindows(store)
	room := &types.Room{ID: "r1", Name: "private_alice_bob"}

	first, err := windows.EnsureOpen(context.Background(), room)
	if err != nil {
		t.Fatalf("EnsureOpen() error = %v", err)
	}
	second, err := windows.EnsureOpen(context.Background(), room)
	if err != nil {
		t.Fatalf("EnsureOpen() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("EnsureOpen() returned different sessions: %s vs %s", first.ID, second.ID)
	}
	if store.openCalls != 2 {
		t.Errorf("OpenSession calls = %d, want 2", store.openCalls)
	}
}

func TestWindows_EnsureOpen_StoreError(t *testing.T) {
	storeErr := errors.New("database unavailable")
	windows := NewWindows(&mockSessionStore{openErr: storeErr})

	_, err := windows.EnsureOpen(context.Background(), &types.Room{ID: "r1", Name: "private_alice_bob"})
	if !errors.Is(err, storeErr) {
		t.Errorf("EnsureOpen() error = %v, want wrapped %v", err, storeErr)
	}
}

func TestWindows_Close(t *testing.T) {
	store := &mockSessionStore{}
	windows := NewWindows(store)
	session := &types.Session{ID: "s1", RoomID: "r1", StartedAt: time.Now()}

	if err := windows.Close(context.Background(), session); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if session.Open() {
		t.Error("session should be closed after Close()")
	}

	// Closing again is a no-op at this layer too.
	if err := windows.Close(context.Background(), session); err != nil {
		t.Fatalf("Close() second call error = %v", err)
	}
	if store.closeCalls != 2 {
		t.Errorf("CloseSession calls = %d, want 2", store.closeCalls)
	}
}

func TestWindows_Close_StoreError(t *testing.T) {
	storeErr := errors.New("database unavailable")
	windows := NewWindows(&mockSessionStore{closeErr: storeErr})

	err := windows.Close(context.Background(), &types.Session{ID: "s1"})
	if !errors.Is(err, storeErr) {
		t.Errorf("Close() error = %v, want wrapped %v", err, storeErr)
	}
}
