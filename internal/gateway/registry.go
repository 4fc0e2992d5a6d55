package gateway

import (
	"log"
	"sync"
)

// Registry tracks the live connections this process is serving, per
// canonical room name. It backs the stats endpoint and shutdown; the
// cross-process participant count lives in the presence registry, not
// here.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[*Connection]struct{})}
}

// Register adds a connection under its room.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomName := conn.RoomName()
	if r.rooms[roomName] == nil {
		r.rooms[roomName] = make(map[*Connection]struct{})
	}
	r.rooms[roomName][conn] = struct{}{}
}

// Unregister removes a connection; idempotent, and empty room entries
// are cleaned up.
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomName := conn.RoomName()
	if conns, exists := r.rooms[roomName]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, roomName)
		}
	}
}

// Stats returns the number of live connections per room plus a total.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]int, len(r.rooms)+1)
	total := 0
	for roomName, conns := range r.rooms {
		stats[roomName] = len(conns)
		total += len(conns)
	}
	stats["total"] = total
	return stats
}

// CloseAll closes every tracked connection, used during shutdown. Each
// close triggers that connection's own disconnect cleanup.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var conns []*Connection
	for _, room := range r.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection during shutdown: %v", err)
		}
	}
}
