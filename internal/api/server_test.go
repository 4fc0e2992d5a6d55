package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

type stubStats struct{ stats map[string]int }

func (s stubStats) Stats() map[string]int { return s.stats }

type stubSessions struct {
	count int
	err   error
}

func (s stubSessions) OpenSessionCount(context.Context) (int, error) { return s.count, s.err }

func doRequest(t *testing.T, server *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to parse response body: %v", err)
		}
	}
	return recorder, body
}

func TestHealth_Healthy(t *testing.T) {
	server := NewServer(stubHealth{}, stubHealth{}, stubStats{}, stubSessions{})

	recorder, body := doRequest(t, server, http.MethodGet, "/health")
	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestHealth_StoreFailure(t *testing.T) {
	server := NewServer(stubHealth{err: errors.New("disk full")}, nil, stubStats{}, stubSessions{})

	recorder, body := doRequest(t, server, http.MethodGet, "/health")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusServiceUnavailable)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status field = %v, want unhealthy", body["status"])
	}
}

func TestHealth_BrokerFailure(t *testing.T) {
	server := NewServer(stubHealth{}, stubHealth{err: errors.New("redis down")}, stubStats{}, stubSessions{})

	recorder, _ := doRequest(t, server, http.MethodGet, "/health")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_NilBrokerSkipped(t *testing.T) {
	server := NewServer(stubHealth{}, nil, stubStats{}, stubSessions{})

	recorder, _ := doRequest(t, server, http.MethodGet, "/health")
	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
}

func TestStats(t *testing.T) {
	server := NewServer(stubHealth{}, nil,
		stubStats{stats: map[string]int{"private_alice_bob": 2, "total": 2}},
		stubSessions{count: 1},
	)

	recorder, body := doRequest(t, server, http.MethodGet, "/api/stats")
	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusOK)
	}
	if body["open_sessions"] != float64(1) {
		t.Errorf("open_sessions = %v, want 1", body["open_sessions"])
	}
	connections, ok := body["connections"].(map[string]any)
	if !ok {
		t.Fatalf("connections field missing: %v", body)
	}
	if connections["total"] != float64(2) {
		t.Errorf("connections.total = %v, want 2", connections["total"])
	}
}

func TestStats_CounterFailure(t *testing.T) {
	server := NewServer(stubHealth{}, nil, stubStats{}, stubSessions{err: errors.New("database gone")})

	recorder, _ := doRequest(t, server, http.MethodGet, "/api/stats")
	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := NewServer(stubHealth{}, nil, stubStats{}, stubSessions{})

	for _, path := range []string{"/health", "/api/stats"} {
		recorder, _ := doRequest(t, server, http.MethodPost, path)
		if recorder.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s status = %d, want %d", path, recorder.Code, http.StatusMethodNotAllowed)
		}
	}
}
