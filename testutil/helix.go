package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockHelix is an in-process stand-in for the Twitch id and Helix APIs: it
// issues app access tokens and serves the user and EventSub subscription
// endpoints the relay touches.
type MockHelix struct {
	TokenURL string
	BaseURL  string

	mu       sync.Mutex
	users    map[string]string // login -> id
	existing []map[string]any  // subscriptions returned by list
	created  []string          // types of subscriptions created via POST
}

// NewMockHelix starts the mock on a random local port.
func NewMockHelix(t *testing.T) *MockHelix {
	t.Helper()
	m := &MockHelix{users: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": "mock-app-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("GET /helix/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer mock-app-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		m.mu.Lock()
		id, ok := m.users[r.URL.Query().Get("login")]
		m.mu.Unlock()
		data := []map[string]string{}
		if ok {
			data = append(data, map[string]string{"id": id})
		}
		writeJSON(w, map[string]any{"data": data})
	})
	mux.HandleFunc("GET /helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		data := append([]map[string]any{}, m.existing...)
		m.mu.Unlock()
		writeJSON(w, map[string]any{"data": data, "pagination": map[string]any{}})
	})
	mux.HandleFunc("POST /helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.created = append(m.created, body.Type)
		m.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"data": []any{}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	m.TokenURL = srv.URL + "/oauth2/token"
	m.BaseURL = srv.URL + "/helix"
	return m
}

// AddUser registers a login -> user id mapping.
func (m *MockHelix) AddUser(login, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[login] = id
}

// AddSubscription seeds an existing subscription into the list response.
func (m *MockHelix) AddSubscription(subType, broadcasterID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existing = append(m.existing, map[string]any{
		"id":        "sub-" + subType,
		"type":      subType,
		"status":    status,
		"condition": map[string]string{"broadcaster_user_id": broadcasterID},
	})
}

// Created returns the types of subscriptions created so far, in order.
func (m *MockHelix) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.created))
	copy(out, m.created)
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
