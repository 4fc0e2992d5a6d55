package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"backchannel/internal/roomkey"
	dbconfig "backchannel/pkg/database"
	"backchannel/pkg/interfaces"
	"backchannel/pkg/types"
)

// Store persists rooms, sessions, messages and the identity directory
// in SQLite. Message content is sealed with the room-derived key before
// it reaches the database; plaintext exists only in memory.
//
// All writes flow through a single goroutine. SQLite allows one writer
// at a time, and funnelling writes also serializes the open-session
// conditional insert within the process; across processes the partial
// unique index carries the same guarantee.
type Store struct {
	db      *sql.DB
	deriver *roomkey.Deriver

	keysetMu sync.RWMutex
	keysets  map[string]*roomkey.Keyset

	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens the database, applies migrations and starts the write
// loop.
func NewStore(cfg *dbconfig.Config, deriver *roomkey.Deriver) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := dbconfig.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	store := &Store{
		db:           db,
		deriver:      deriver,
		keysets:      make(map[string]*roomkey.Keyset),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	store.wg.Add(1)
	go store.writeLoop()

	return store, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Database write failed, retrying: %v", err)
				time.Sleep(time.Second)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// EnsureRoom returns the canonical room for a pair of identities,
// inserting it on first contact. The unique constraint on the name
// makes concurrent first contacts converge on a single row.
func (s *Store) EnsureRoom(ctx context.Context, a, b string) (*types.Room, error) {
	name := types.CanonicalRoomName(a, b)

	var room types.Room
	err := s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO rooms (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
			uuid.New().String(), name,
		); err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}

		row := db.QueryRowContext(ctx, "SELECT id, name FROM rooms WHERE name = ?", name)
		if err := row.Scan(&room.ID, &room.Name); err != nil {
			return fmt.Errorf("failed to load room: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoom loads a room by canonical name.
func (s *Store) GetRoom(ctx context.Context, name string) (*types.Room, error) {
	var room types.Room
	row := s.db.QueryRowContext(ctx, "SELECT id, name FROM rooms WHERE name = ?", name)
	if err := row.Scan(&room.ID, &room.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return &room, nil
}

// OpenSession returns the room's open session, creating one atomically
// when none exists. The partial unique index ux_sessions_open rejects a
// second open row for the room, so concurrent connects cannot open two
// sessions; the conditional insert plus select is the whole operation.
func (s *Store) OpenSession(ctx context.Context, room *types.Room) (*types.Session, error) {
	var session *types.Session
	err := s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO sessions (id, room_id, started_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
			uuid.New().String(), room.ID, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		found, err := scanSession(db.QueryRowContext(ctx,
			"SELECT id, room_id, started_at, ended_at FROM sessions WHERE room_id = ? AND ended_at IS NULL",
			room.ID,
		))
		if err != nil {
			return fmt.Errorf("failed to load open session: %w", err)
		}
		session = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CloseSession stamps the session's end time. The ended_at guard makes
// the close idempotent: racing disconnects cannot move an end timestamp
// that is already set.
func (s *Store) CloseSession(ctx context.Context, session *types.Session) error {
	now := time.Now().UTC()
	err := s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			"UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL",
			now, session.ID,
		); err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if session.EndedAt == nil {
		session.EndedAt = &now
	}
	return nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		"SELECT id, room_id, started_at, ended_at FROM sessions WHERE id = ?",
		sessionID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// Save encrypts plaintext under the room-derived key and persists the
// ciphertext. The returned record carries the generated timestamp that
// the broadcast payload needs.
func (s *Store) Save(ctx context.Context, room *types.Room, session *types.Session, sender, plaintext string) (*types.ChatMessage, error) {
	keyset, err := s.keysetFor(room.Name)
	if err != nil {
		return nil, err
	}

	ciphertext, err := keyset.Seal([]byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	message := &types.ChatMessage{
		ID:         uuid.New().String(),
		SessionID:  session.ID,
		Sender:     sender,
		Ciphertext: ciphertext,
		Timestamp:  time.Now().UTC(),
	}

	err = s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO messages (id, session_id, sender, ciphertext, timestamp) VALUES (?, ?, ?, ?, ?)",
			message.ID, message.SessionID, message.Sender, message.Ciphertext, message.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// LoadHistory returns every message from the room's closed sessions,
// ordered by session start time then message timestamp, each annotated
// with its session window.
func (s *Store) LoadHistory(ctx context.Context, room *types.Room) ([]*types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.sender, m.ciphertext, m.timestamp, s.started_at, s.ended_at
		FROM messages m
		JOIN sessions s ON m.session_id = s.id
		WHERE s.room_id = ? AND s.ended_at IS NOT NULL
		ORDER BY s.started_at ASC, m.timestamp ASC
	`, room.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var message types.ChatMessage
		var endedAt sql.NullTime
		if err := rows.Scan(
			&message.ID, &message.SessionID, &message.Sender,
			&message.Ciphertext, &message.Timestamp,
			&message.SessionStartedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if endedAt.Valid {
			message.SessionEndedAt = &endedAt.Time
		}
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return messages, nil
}

// LoadOpenBacklog returns all messages of one session in timestamp
// order.
func (s *Store) LoadOpenBacklog(ctx context.Context, session *types.Session) ([]*types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, ciphertext, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var message types.ChatMessage
		if err := rows.Scan(
			&message.ID, &message.SessionID, &message.Sender,
			&message.Ciphertext, &message.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backlog row: %w", err)
		}
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backlog rows: %w", err)
	}
	return messages, nil
}

// Decrypt recovers a message's plaintext using the room's keyset,
// trying rotated keys in order. A blob no configured key opens yields
// ErrDecryptionFailure; callers render a placeholder and keep going.
func (s *Store) Decrypt(room *types.Room, message *types.ChatMessage) (string, error) {
	keyset, err := s.keysetFor(room.Name)
	if err != nil {
		return "", err
	}

	plaintext, err := keyset.Open(message.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: message %s: %v", interfaces.ErrDecryptionFailure, message.ID, err)
	}
	return string(plaintext), nil
}

// EnsureUser inserts an identity into the directory if absent.
func (s *Store) EnsureUser(ctx context.Context, username string) error {
	return s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING",
			username,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// UserExists reports whether an identity resolves to a real account.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return count > 0, nil
}

// HealthCheck validates connectivity and basic read access.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// OpenSessionCount reports how many sessions currently have no end
// timestamp, for the stats endpoint.
func (s *Store) OpenSessionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}
	return count, nil
}

// Close drains the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// keysetFor derives (and caches) the room's keyset. Derivation is
// deterministic, so the cache is purely a cost saving.
func (s *Store) keysetFor(roomName string) (*roomkey.Keyset, error) {
	s.keysetMu.RLock()
	keyset, exists := s.keysets[roomName]
	s.keysetMu.RUnlock()
	if exists {
		return keyset, nil
	}

	keyset, err := s.deriver.DeriveKeyset(roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key for room %s: %w", roomName, err)
	}

	s.keysetMu.Lock()
	s.keysets[roomName] = keyset
	s.keysetMu.Unlock()
	return keyset, nil
}

func scanSession(row *sql.Row) (*types.Session, error) {
	var session types.Session
	var endedAt sql.NullTime
	if err := row.Scan(&session.ID, &session.RoomID, &session.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
