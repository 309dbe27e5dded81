// Package server exposes the control panel over HTTP: application state, OBS session control,
// reward configuration, redemptions, OpenAI settings, the Twitch login endpoints, and the
// image page used as an OBS browser source.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stoopler-tools/background-changer/config"
	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/obs"
	"github.com/stoopler-tools/background-changer/openai"
	"github.com/stoopler-tools/background-changer/redemption"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

// Maximum number of OAuth states kept in memory.
const maxOAuthStates = 10000

// OBSController is the OBS session surface used by the API.
type OBSController interface {
	Connect(ctx context.Context, creds state.ConnectionCredentials) error
	Disconnect(ctx context.Context)
	ImageSources(ctx context.Context) ([]string, error)
	State() obs.State
	LastError() string
}

// RewardController edits the tracked channel point reward.
type RewardController interface {
	Save(ctx context.Context, title string, cost int, prompt string) (state.Reward, error)
	Toggle(ctx context.Context) (state.Reward, error)
	Delete(ctx context.Context) (bool, error)
	CancelDelete()
	DeletePending() bool
}

// RedemptionSource exposes the latest polled redemptions.
type RedemptionSource interface {
	Redemptions() []twitchapi.Redemption
}

// Fulfiller fulfils one redemption.
type Fulfiller interface {
	Fulfill(ctx context.Context, id string) (redemption.Result, error)
}

// Authenticator adopts and drops Twitch logins.
type Authenticator interface {
	Adopt(ctx context.Context, token string) (twitchapi.User, error)
	Logout(ctx context.Context)
	Save(ctx context.Context, tok db.OAuthToken) error
}

// ConnectionTester checks OpenAI credentials.
type ConnectionTester func(ctx context.Context, settings state.OpenAISettings) error

// Deps are the components served by the API. DB may be nil.
type Deps struct {
	Config      *config.Config
	Store       *state.Store
	DB          *db.DB
	OBS         OBSController
	Rewards     RewardController
	Redemptions RedemptionSource
	Fulfiller   Fulfiller
	Auth        Authenticator
	OAuth       *oauth2.Config
	// OAuthHTTPClient is used for the token endpoint; nil means http.DefaultClient.
	OAuthHTTPClient *http.Client
	TestOpenAI      ConnectionTester
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers fills defaults and returns the handler set.
func NewHandlers(deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.TestOpenAI == nil {
		deps.TestOpenAI = func(ctx context.Context, s state.OpenAISettings) error {
			c := &openai.Client{APIKey: s.APIKey, OrgID: s.OrgID}
			return c.TestConnection(ctx)
		}
	}
	return &Handlers{Deps: deps, stateStore: make(map[string]time.Time)}
}

// cleanExpiredStates must be called with stateMu held.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for st, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, st)
		}
	}
}

// addOAuthState records a state; it refuses new states beyond maxOAuthStates.
func (h *Handlers) addOAuthState(st string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[st] = expiry
	return true
}

// consumeOAuthState removes st and reports whether it was valid.
func (h *Handlers) consumeOAuthState(st string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[st]
	delete(h.stateStore, st)
	return ok && time.Now().Before(exp)
}
