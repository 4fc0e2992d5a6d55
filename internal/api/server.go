package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// HealthChecker is implemented by the store and the Redis broker.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStats reports live connection counts, per room plus total.
type ConnectionStats interface {
	Stats() map[string]int
}

// SessionCounter reports how many sessions are currently open.
type SessionCounter interface {
	OpenSessionCount(ctx context.Context) (int, error)
}

// Server is the HTTP admin surface: health and stats only. The chat
// itself runs over the WebSocket endpoint; the forum's own pages and
// APIs live elsewhere.
type Server struct {
	store    HealthChecker
	broker   HealthChecker
	registry ConnectionStats
	sessions SessionCounter
	mux      *http.ServeMux
}

// NewServer wires the admin endpoints. broker may be nil when the
// in-process fan-out is used; health then covers the store alone.
func NewServer(store HealthChecker, broker HealthChecker, registry ConnectionStats, sessions SessionCounter) *Server {
	s := &Server{
		store:    store,
		broker:   broker,
		registry: registry,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	s.mux.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.mux.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{"status": "healthy"}
	code := http.StatusOK

	if err := s.store.HealthCheck(ctx); err != nil {
		log.Printf("Store health check failed: %v", err)
		status = map[string]string{"status": "unhealthy", "store": err.Error()}
		code = http.StatusServiceUnavailable
	} else if s.broker != nil {
		if err := s.broker.HealthCheck(ctx); err != nil {
			log.Printf("Broker health check failed: %v", err)
			status = map[string]string{"status": "unhealthy", "broker": err.Error()}
			code = http.StatusServiceUnavailable
		}
	}

	s.sendJSON(w, status, code)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	openSessions, err := s.sessions.OpenSessionCount(ctx)
	if err != nil {
		log.Printf("Failed to count open sessions: %v", err)
		s.sendError(w, "Failed to gather stats", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"connections":   s.registry.Stats(),
		"open_sessions": openSessions,
	}, http.StatusOK)
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, code int) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, map[string]string{"error": message}, code)
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
