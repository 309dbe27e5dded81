// Package testutil provides in-process fakes of Twitch Helix and obs-websocket for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// HelixReward is a reward held by MockTwitchServer.
type HelixReward struct {
	ID                  string `json:"id"`
	BroadcasterID       string `json:"broadcaster_id"`
	Title               string `json:"title"`
	Cost                int    `json:"cost"`
	Prompt              string `json:"prompt"`
	IsEnabled           bool   `json:"is_enabled"`
	IsUserInputRequired bool   `json:"is_user_input_required"`
}

// HelixRedemption is a redemption held by MockTwitchServer.
type HelixRedemption struct {
	ID         string    `json:"id"`
	RewardID   string    `json:"-"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	UserInput  string    `json:"user_input"`
	Status     string    `json:"status"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type failure struct {
	status  int
	message string
}

// MockTwitchServer creates a test server that mocks Twitch Helix API responses. Reward and
// redemption endpoints keep state in memory; Handlers override any route by path.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu          sync.Mutex
	user        map[string]string
	rewards     map[string]*HelixReward
	redemptions []*HelixRedemption
	calls       []string
	failures    map[string]failure
	nextID      int
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		rewards:  make(map[string]*HelixReward),
		failures: make(map[string]failure),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to give a HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

func (m *MockTwitchServer) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	m.mu.Lock()
	m.calls = append(m.calls, route)
	f, failing := m.failures[route]
	delete(m.failures, route)
	m.mu.Unlock()

	if handler, ok := m.Handlers[r.URL.Path]; ok {
		handler(w, r)
		return
	}
	if failing {
		writeJSON(w, f.status, map[string]any{"status": f.status, "message": f.message})
		return
	}
	switch r.URL.Path {
	case "/helix/users":
		m.serveUsers(w)
	case "/helix/channel_points/custom_rewards":
		m.serveRewards(w, r)
	case "/helix/channel_points/custom_rewards/redemptions":
		m.serveRedemptions(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse sets the user returned by /helix/users.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = map[string]string{"id": userID, "login": login, "display_name": login}
}

func (m *MockTwitchServer) serveUsers(w http.ResponseWriter) {
	m.mu.Lock()
	u := m.user
	m.mu.Unlock()
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "Invalid OAuth token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{u}})
}

// FailNext makes the next request to "METHOD /path" fail with status and message.
func (m *MockTwitchServer) FailNext(route string, status int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[route] = failure{status: status, message: message}
}

// Calls returns the "METHOD /path" of every request received, in order.
func (m *MockTwitchServer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount counts requests to route.
func (m *MockTwitchServer) CallCount(route string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == route {
			n++
		}
	}
	return n
}

// Reward returns a copy of the stored reward.
func (m *MockTwitchServer) Reward(id string) (HelixReward, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rewards[id]
	if !ok {
		return HelixReward{}, false
	}
	return *r, true
}

// PutReward stores a reward as if it had been created earlier.
func (m *MockTwitchServer) PutReward(r HelixReward) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rewards[r.ID] = &r
}

func (m *MockTwitchServer) serveRewards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Method {
	case http.MethodPost:
		var in HelixReward
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		m.nextID++
		in.ID = fmt.Sprintf("reward-%d", m.nextID)
		in.BroadcasterID = q.Get("broadcaster_id")
		m.rewards[in.ID] = &in
		writeJSON(w, http.StatusOK, map[string]any{"data": []HelixReward{in}})
	case http.MethodPatch:
		cur, ok := m.rewards[q.Get("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		for k, v := range patch {
			switch k {
			case "title":
				_ = json.Unmarshal(v, &cur.Title)
			case "cost":
				_ = json.Unmarshal(v, &cur.Cost)
			case "prompt":
				_ = json.Unmarshal(v, &cur.Prompt)
			case "is_enabled":
				_ = json.Unmarshal(v, &cur.IsEnabled)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []HelixReward{*cur}})
	case http.MethodDelete:
		if _, ok := m.rewards[q.Get("id")]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		delete(m.rewards, q.Get("id"))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AddRedemption records a viewer redemption.
func (m *MockTwitchServer) AddRedemption(rd HelixRedemption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rd.Status == "" {
		rd.Status = "UNFULFILLED"
	}
	m.redemptions = append(m.redemptions, &rd)
}

// RedemptionStatus returns the stored status of a redemption.
func (m *MockTwitchServer) RedemptionStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rd := range m.redemptions {
		if rd.ID == id {
			return rd.Status
		}
	}
	return ""
}

type redemptionOut struct {
	*HelixRedemption
	Reward struct {
		ID string `json:"id"`
	} `json:"reward"`
}

func (m *MockTwitchServer) serveRedemptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := func(rd *HelixRedemption) redemptionOut {
		o := redemptionOut{HelixRedemption: rd}
		o.Reward.ID = rd.RewardID
		return o
	}
	switch r.Method {
	case http.MethodGet:
		var list []redemptionOut
		for _, rd := range m.redemptions {
			if rd.RewardID == q.Get("reward_id") && rd.Status == q.Get("status") {
				list = append(list, out(rd))
			}
		}
		sort.Slice(list, func(i, j int) bool { return list[i].RedeemedAt.After(list[j].RedeemedAt) })
		if list == nil {
			list = []redemptionOut{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})
	case http.MethodPatch:
		var in struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		for _, rd := range m.redemptions {
			if rd.ID == q.Get("id") && rd.RewardID == q.Get("reward_id") {
				if rd.Status != "UNFULFILLED" {
					writeJSON(w, http.StatusBadRequest, map[string]any{"message": "redemption is not UNFULFILLED"})
					return
				}
				rd.Status = in.Status
				writeJSON(w, http.StatusOK, map[string]any{"data": []redemptionOut{out(rd)}})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
			"scope":         []string{"channel:read:redemptions", "channel:manage:redemptions"},
		})
	}
}
