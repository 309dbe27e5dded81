package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stoopler-tools/background-changer/config"
	"github.com/stoopler-tools/background-changer/oauth"
	"github.com/stoopler-tools/background-changer/obs"
	"github.com/stoopler-tools/background-changer/redemption"
	"github.com/stoopler-tools/background-changer/reward"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/testutil"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

type fakeOBS struct {
	mu        sync.Mutex
	connected bool
	creds     state.ConnectionCredentials
	err       error
	sources   []string
}

func (f *fakeOBS) Connect(_ context.Context, c state.ConnectionCredentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !c.Valid() {
		return obs.ErrNoCredentials
	}
	f.creds = c
	f.connected = true
	return nil
}

func (f *fakeOBS) Disconnect(context.Context) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeOBS) ImageSources(context.Context) ([]string, error) { return f.sources, nil }

func (f *fakeOBS) State() obs.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return obs.StateConnected
	}
	return obs.StateIdle
}

func (f *fakeOBS) LastError() string { return "" }

type fakeRedemptions []twitchapi.Redemption

func (f fakeRedemptions) Redemptions() []twitchapi.Redemption { return f }

type fakeFulfiller struct {
	err error
	ids []string
}

func (f *fakeFulfiller) Fulfill(_ context.Context, id string) (redemption.Result, error) {
	f.ids = append(f.ids, id)
	if f.err != nil {
		return redemption.Result{}, f.err
	}
	return redemption.Result{RedemptionID: id, ImageURL: "https://img.example/" + id, File: "/data/images/" + id + ".png"}, nil
}

type testEnv struct {
	deps    Deps
	twitch  *testutil.MockTwitchServer
	obs     *fakeOBS
	fulfill *fakeFulfiller
	handler http.Handler
}

// newEnv builds a mux over a real store, reward controller and login flow backed by the
// mock Twitch server.
func newEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN", "RATE_LIMIT_ENABLED"} {
		t.Setenv(k, "")
	}
	twitch := testutil.NewMockTwitchServer(t)
	store := state.NewStore(state.NewMemoryPersister())
	database := testutil.SetupTestDB(t)
	helix := &twitchapi.HelixClient{
		ClientID: "cid",
		Tokens: twitchapi.TokenFunc(func(ctx context.Context) (string, error) {
			return twitchapi.StaticToken(store.AccessToken()).Token(ctx)
		}),
		BaseURL: twitch.HelixURL(),
	}
	env := &testEnv{twitch: twitch, obs: &fakeOBS{}, fulfill: &fakeFulfiller{}}
	env.deps = Deps{
		Config:      &config.Config{DataDir: t.TempDir(), Env: "dev"},
		Store:       store,
		DB:          database,
		OBS:         env.obs,
		Rewards:     reward.NewController(store, helix),
		Redemptions: fakeRedemptions{},
		Fulfiller:   env.fulfill,
		Auth:        oauth.NewFlow(store, helix, nil, database),
		OAuth: &oauth2.Config{
			ClientID:     "cid",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:8080/api/twitch/callback",
			Scopes:       []string{"channel:read:redemptions"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   twitch.URL + "/oauth2/authorize",
				TokenURL:  twitch.URL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		TestOpenAI: func(context.Context, state.OpenAISettings) error { return nil },
	}
	for _, m := range mutate {
		m(&env.deps)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.handler = NewMux(ctx, env.deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, o := range opts {
		o(req)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthzOK(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ok", rr.Body.String())
}

func TestReadyz(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, false, body["twitch_connected"])
	assert.Equal(t, "idle", body["obs_state"])
}

func TestStartAndShutdown(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, env.deps, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStateRedactsSecrets(t *testing.T) {
	env := newEnv(t)
	s := env.deps.Store
	s.SetAccessToken("user-token")
	s.SetTwitchConnected(true)
	s.SetOBSCredentials(state.ConnectionCredentials{URL: "localhost", Port: "4455", Password: "obs-pw"})
	require.NoError(t, s.SetOpenAISettings(state.OpenAISettings{APIKey: "sk-secret", ImageSize: "512x512"}))
	s.AddLog("hello")

	rr := env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	raw := rr.Body.String()
	for _, secret := range []string{"user-token", "obs-pw", "sk-secret"} {
		assert.NotContains(t, raw, secret)
	}
	v := decode[stateView](t, rr)
	assert.True(t, v.TwitchConnected)
	assert.True(t, v.OpenAI.HasAPIKey)
	assert.True(t, v.OBSConnection.HasPassword)
	assert.Equal(t, "512x512", v.OpenAI.ImageSize)
	require.Len(t, v.Log, 1)

	rr = env.do(t, http.MethodGet, "/api/log", "")
	log := decode[[]state.LogEntry](t, rr)
	require.Len(t, log, 1)
	assert.Equal(t, "hello", log[0].Message)
}

func TestOBSConnect(t *testing.T) {
	t.Run("posted credentials", func(t *testing.T) {
		env := newEnv(t)
		rr := env.do(t, http.MethodPost, "/api/obs/connect", `{"obsWebsocketUrl":"localhost","obsPort":"4455","obsPassword":"pw"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "4455", env.obs.creds.Port)
	})
	t.Run("failed attempt keeps last-known credentials", func(t *testing.T) {
		env := newEnv(t)
		known := state.ConnectionCredentials{URL: "obs.lan", Port: "4455", Password: "pw"}
		env.deps.Store.SetOBSCredentials(known)
		env.obs.err = errors.Join(obs.ErrConnectionFailed, errors.New("dial refused"))
		rr := env.do(t, http.MethodPost, "/api/obs/connect", `{"obsWebsocketUrl":"typo.lan","obsPort":"1"}`)
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Equal(t, known, env.deps.Store.OBSCredentials())
	})
	t.Run("stored credentials when body empty", func(t *testing.T) {
		env := newEnv(t)
		creds := state.ConnectionCredentials{URL: "obs.lan", Port: "4456"}
		require.NoError(t, env.deps.Store.SaveOBSCredentials(context.Background(), creds))
		rr := env.do(t, http.MethodPost, "/api/obs/connect", "")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, creds, env.obs.creds)
	})
	t.Run("no credentials", func(t *testing.T) {
		env := newEnv(t)
		rr := env.do(t, http.MethodPost, "/api/obs/connect", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	tests := []struct {
		err  error
		want int
	}{
		{obs.ErrAlreadyConnected, http.StatusConflict},
		{errors.Join(obs.ErrConnectionFailed, errors.New("dial refused")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newEnv(t)
			env.obs.err = tt.err
			rr := env.do(t, http.MethodPost, "/api/obs/connect", `{"obsWebsocketUrl":"localhost","obsPort":"4455"}`)
			assert.Equal(t, tt.want, rr.Code)
			assert.Contains(t, decode[map[string]string](t, rr)["error"], "OBS")
		})
	}
}

func TestOBSDisconnectAndSources(t *testing.T) {
	env := newEnv(t)
	env.obs.connected = true
	rr := env.do(t, http.MethodPost, "/api/obs/disconnect", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, obs.StateIdle, env.obs.State())

	rr = env.do(t, http.MethodGet, "/api/obs/sources", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"sources":[]}`, rr.Body.String())

	env.obs.sources = []string{"Background"}
	rr = env.do(t, http.MethodGet, "/api/obs/sources", "")
	assert.JSONEq(t, `{"sources":["Background"]}`, rr.Body.String())
}

func TestRewardEndpoints(t *testing.T) {
	env := newEnv(t)
	env.deps.Store.SetBroadcasterID("b1")
	env.deps.Store.SetAccessToken("tok")

	rr := env.do(t, http.MethodPost, "/api/reward", `{"title":"","cost":10}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/reward", `{"title":"Paint","cost":100,"prompt":"describe"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	saved := decode[state.Reward](t, rr)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "Paint", saved.Title)

	rr = env.do(t, http.MethodPost, "/api/reward/toggle", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	toggled := decode[state.Reward](t, rr)
	assert.NotEqual(t, saved.IsEnabled, toggled.IsEnabled)

	rr = env.do(t, http.MethodPost, "/api/reward/delete", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":false,"confirmPending":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/reward/delete/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, env.deps.Rewards.DeletePending())

	env.do(t, http.MethodPost, "/api/reward/delete", "")
	rr = env.do(t, http.MethodPost, "/api/reward/delete", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":true,"confirmPending":false}`, rr.Body.String())
	_, exists := env.twitch.Reward(saved.ID)
	assert.False(t, exists)
	assert.Nil(t, env.deps.Store.Reward())
}

func TestRewardWithoutBroadcaster(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodPost, "/api/reward", `{"title":"Paint","cost":100}`)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Empty(t, env.twitch.Calls(), "no remote call without a broadcaster")
}

func TestRedemptionsLimitAndStatus(t *testing.T) {
	list := fakeRedemptions{
		{ID: "d", Status: twitchapi.StatusUnfulfilled},
		{ID: "c", Status: twitchapi.StatusFulfilled},
		{ID: "b", Status: twitchapi.StatusUnfulfilled},
		{ID: "a", Status: twitchapi.StatusCanceled},
	}
	env := newEnv(t, func(d *Deps) { d.Redemptions = list })

	ids := func(rr *httptest.ResponseRecorder) []string {
		var out []string
		for _, r := range decode[[]twitchapi.Redemption](t, rr) {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(env.do(t, http.MethodGet, "/api/redemptions", "")))
	assert.Equal(t, []string{"d", "c"}, ids(env.do(t, http.MethodGet, "/api/redemptions?limit=2", "")))
	assert.Equal(t, []string{"d", "b"}, ids(env.do(t, http.MethodGet, "/api/redemptions?status=unfulfilled", "")))

	empty := newEnv(t)
	assert.JSONEq(t, `[]`, empty.do(t, http.MethodGet, "/api/redemptions", "").Body.String())
}

func TestFulfillEndpoint(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodPost, "/api/redemptions/abc/fulfill", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[redemption.Result](t, rr)
	assert.Equal(t, "abc", res.RedemptionID)
	assert.Equal(t, []string{"abc"}, env.fulfill.ids)

	tests := []struct {
		err  error
		want int
	}{
		{redemption.ErrNotLoggedIn, http.StatusPreconditionFailed},
		{redemption.ErrUnknownRedemption, http.StatusNotFound},
		{redemption.ErrNotPending, http.StatusConflict},
		{redemption.ErrFulfillInProgress, http.StatusConflict},
		{&twitchapi.APIError{Status: 400, Message: "bad"}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newEnv(t)
			env.fulfill.err = tt.err
			rr := env.do(t, http.MethodPost, "/api/redemptions/x/fulfill", "")
			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, tt.err.Error(), decode[map[string]string](t, rr)["error"])
		})
	}
}

func TestFulfillRateLimited(t *testing.T) {
	env := newEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "1")
	env.handler = NewMux(context.Background(), env.deps)

	first := env.do(t, http.MethodPost, "/api/redemptions/a/fulfill", "")
	require.Equal(t, http.StatusOK, first.Code)
	second := env.do(t, http.MethodPost, "/api/redemptions/a/fulfill", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Len(t, env.fulfill.ids, 1)
}

func TestAdminAuthGuardsMutations(t *testing.T) {
	env := newEnv(t)
	t.Setenv("ADMIN_TOKEN", "letmein")
	env.handler = NewMux(context.Background(), env.deps)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/reward/delete/cancel", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPut, "/api/openai/settings", `{}`).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/state", "").Code)

	withToken := func(r *http.Request) { r.Header.Set("X-Admin-Token", "letmein") }
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/reward/delete/cancel", "", withToken).Code)
}

func TestOpenAISettings(t *testing.T) {
	env := newEnv(t)
	s := env.deps.Store
	require.NoError(t, s.SetOpenAISettings(state.OpenAISettings{APIKey: "sk-old", PromptPrefix: "oil painting of"}))
	s.SetOpenAIConnected(true)

	rr := env.do(t, http.MethodPut, "/api/openai/settings", `{"imageSize":"512x512"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := s.OpenAISettings()
	assert.Equal(t, "sk-old", got.APIKey, "omitted key is kept")
	assert.Equal(t, "512x512", got.ImageSize)
	assert.Equal(t, "oil painting of", got.PromptPrefix)
	assert.True(t, s.OpenAIConnected())

	rr = env.do(t, http.MethodPut, "/api/openai/settings", `{"apiKey":"sk-new"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sk-new", s.OpenAISettings().APIKey)
	assert.False(t, s.OpenAIConnected(), "a new key must be tested again")
	assert.NotContains(t, rr.Body.String(), "sk-new")

	rr = env.do(t, http.MethodPut, "/api/openai/settings", `{"imageSize":"999x999"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/openai/settings", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOpenAITestConnection(t *testing.T) {
	var tested state.OpenAISettings
	fail := false
	env := newEnv(t, func(d *Deps) {
		d.TestOpenAI = func(_ context.Context, s state.OpenAISettings) error {
			tested = s
			if fail {
				return errors.New("401 invalid key")
			}
			return nil
		}
	})
	s := env.deps.Store

	rr := env.do(t, http.MethodPost, "/api/openai/test-connection", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no key anywhere")

	require.NoError(t, s.SetOpenAISettings(state.OpenAISettings{APIKey: "sk-stored"}))
	rr = env.do(t, http.MethodPost, "/api/openai/test-connection", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Equal(t, "sk-stored", tested.APIKey)
	assert.True(t, s.OpenAIConnected())

	fail = true
	rr = env.do(t, http.MethodPost, "/api/openai/test-connection", `{"apiKey":"sk-other","orgId":"org-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"success":false,"error":"Failed to connect to OpenAI"}`, rr.Body.String())
	assert.Equal(t, "org-1", tested.OrgID)
	assert.False(t, s.OpenAIConnected())
	assert.Equal(t, "Failed to connect to OpenAI", s.Log()[0].Message)
}

func TestTwitchOAuthFlow(t *testing.T) {
	env := newEnv(t)
	env.twitch.MockOAuthTokenResponse("access-1", "refresh-1", 3600)
	env.twitch.MockUserResponse("b42", "streamer")

	rr := env.do(t, http.MethodGet, "/auth/twitch/start", "")
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	st := loc.Query().Get("state")
	require.NotEmpty(t, st)
	assert.Equal(t, "cid", loc.Query().Get("client_id"))

	rr = env.do(t, http.MethodGet, "/api/twitch/callback?code=c&state=wrong", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/twitch/callback?code=c&state="+st, "")
	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())
	assert.Equal(t, "/", rr.Header().Get("Location"))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, tokenCookie, c.Name)
	assert.Equal(t, "access-1", c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.False(t, c.Secure, "dev mode cookies are not Secure")

	row, ok, err := env.deps.DB.GetOAuthToken(context.Background(), oauth.ProviderTwitch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", row.RefreshToken)

	rr = env.do(t, http.MethodGet, "/api/twitch/callback?code=c&state="+st, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "state is single use")

	withCookie := func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookie, Value: "access-1"}) }
	rr = env.do(t, http.MethodGet, "/api/auth/check-token", "", withCookie)
	assert.JSONEq(t, `{"token":"access-1"}`, rr.Body.String())
	rr = env.do(t, http.MethodGet, "/api/auth/check-token", "")
	assert.JSONEq(t, `{"token":null}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/auth/session", "", withCookie)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	s := env.deps.Store
	assert.Equal(t, "access-1", s.AccessToken())
	assert.Equal(t, "b42", s.BroadcasterID())
	assert.True(t, s.TwitchConnected())
	cleared := rr.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)

	rr = env.do(t, http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, s.AccessToken())
	assert.False(t, s.TwitchConnected())
	_, ok, err = env.deps.DB.GetOAuthToken(context.Background(), oauth.ProviderTwitch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRejectedToken(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodPost, "/api/auth/session", `{"token":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, env.deps.Store.TwitchConnected())

	rr = env.do(t, http.MethodPost, "/api/auth/session", "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestOAuthStartNotConfigured(t *testing.T) {
	env := newEnv(t, func(d *Deps) { d.OAuth = nil })
	rr := env.do(t, http.MethodGet, "/auth/twitch/start", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSecureCookieOutsideDev(t *testing.T) {
	env := newEnv(t, func(d *Deps) { d.Config.Env = "production" })
	rr := env.do(t, http.MethodPost, "/api/auth/clear-token", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
}

func TestImagePage(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodGet, "/api/image", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No image yet")
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/image/file", "").Code)

	dir := filepath.Join(env.deps.Config.DataDir, "images")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, "r1.png")
	require.NoError(t, os.WriteFile(file, []byte("\x89PNG\r\n\x1a\nfake"), 0o644))
	env.deps.Store.SetCurrentImage("https://img.example/r1", file)

	rr = env.do(t, http.MethodGet, "/api/image", "")
	assert.Contains(t, rr.Body.String(), `<img src="/api/image/file?v=`)
	rr = env.do(t, http.MethodGet, "/api/image/file", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
}

func TestImageFileOutsideDataDir(t *testing.T) {
	env := newEnv(t)
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	env.deps.Store.SetCurrentImage("https://img.example/x", outside)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/image/file", "").Code)
	assert.Contains(t, env.do(t, http.MethodGet, "/api/image", "").Body.String(), "No image yet")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	rr := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
