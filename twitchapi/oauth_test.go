package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "channel:read:redemptions channel:manage:redemptions",
			state:       "random-state",
			wantParts:   []string{"https://id.twitch.tv/oauth2/authorize?", "client_id=test-client-id", "state=random-state", "response_type=code", "scope=channel%3Aread%3Aredemptions+channel%3Amanage%3Aredemptions"},
		},
		{
			name:        "empty client ID",
			redirectURI: "http://localhost/callback",
			wantErr:     true,
		},
		{
			name:     "empty redirect URI",
			clientID: "client",
			wantErr:  true,
		},
		{
			name:        "comma separated scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "user:read:email,chat:read",
			state:       "state-123",
			wantParts:   []string{"client_id=client-id", "scope=user%3Aread%3Aemail+chat%3Aread"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := OAuthConfig(tt.clientID, "secret", tt.redirectURI, tt.scopes)
			url, err := BuildAuthorizeURL(cfg, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Errorf("BuildAuthorizeURL() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL() unexpected error = %v", err)
			}
			for _, part := range tt.wantParts {
				if !strings.Contains(url, part) {
					t.Errorf("BuildAuthorizeURL() = %q, missing %q", url, part)
				}
			}
		})
	}
}

func tokenServer(t *testing.T, wantGrant string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != wantGrant {
			t.Errorf("grant_type = %q, want %q", got, wantGrant)
		}
		if r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "secret" {
			t.Errorf("client credentials not sent in params: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    14400,
			"token_type":    "bearer",
			"scope":         []string{"channel:read:redemptions", "channel:manage:redemptions"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(tokenURL string) *oauth2.Config {
	cfg := OAuthConfig("cid", "secret", "http://localhost/callback", "channel:read:redemptions")
	cfg.Endpoint.TokenURL = tokenURL
	return cfg
}

func TestExchangeAuthCode(t *testing.T) {
	srv := tokenServer(t, "authorization_code")
	tok, err := ExchangeAuthCode(context.Background(), testConfig(srv.URL), srv.Client(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if tok.AccessToken != "new-access" || tok.RefreshToken != "new-refresh" {
		t.Errorf("token = %+v", tok)
	}
	if time.Until(tok.Expiry) < 3*time.Hour {
		t.Errorf("expiry = %v, want ~4h ahead", tok.Expiry)
	}
	if got := TokenScope(tok); got != "channel:read:redemptions channel:manage:redemptions" {
		t.Errorf("TokenScope() = %q", got)
	}
}

func TestExchangeAuthCodeMissingParams(t *testing.T) {
	if _, err := ExchangeAuthCode(context.Background(), testConfig("http://unused"), nil, ""); err == nil {
		t.Error("want error for empty code")
	}
	if _, err := ExchangeAuthCode(context.Background(), nil, nil, "code"); err == nil {
		t.Error("want error for nil config")
	}
}

func TestRefreshToken(t *testing.T) {
	srv := tokenServer(t, "refresh_token")
	tok, err := RefreshToken(context.Background(), testConfig(srv.URL), srv.Client(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if tok.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if _, err := RefreshToken(context.Background(), testConfig(srv.URL), nil, ""); err == nil {
		t.Error("want error for empty refresh token")
	}
}

func TestRefreshTokenRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer srv.Close()
	if _, err := RefreshToken(context.Background(), testConfig(srv.URL), srv.Client(), "bad"); err == nil {
		t.Error("want error")
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{"positive", 3600, time.Hour},
		{"zero defaults to an hour", 0, 60 * time.Minute},
		{"negative defaults to an hour", -5, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := time.Until(ComputeExpiry(tt.seconds))
			if got < tt.want-time.Second || got > tt.want+time.Second {
				t.Errorf("ComputeExpiry(%d) in %v, want ~%v", tt.seconds, got, tt.want)
			}
		})
	}
}
