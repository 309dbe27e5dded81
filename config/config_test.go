package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("OBS_RECONNECT_INTERVAL", "")
	t.Setenv("OBS_HEARTBEAT_INTERVAL", "")
	t.Setenv("REDEMPTION_POLL_INTERVAL", "")
	t.Setenv("OBS_SOURCE_KIND", "")
	t.Setenv("TWITCH_SCOPES", "")
	t.Setenv("TWITCH_REDIRECT_URI", "")
	t.Setenv("PUBLIC_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBDsn != "sqlite://data/background-changer.db" {
		t.Errorf("DBDsn = %q", cfg.DBDsn)
	}
	if cfg.OBSReconnectInterval != 5*time.Second || cfg.OBSHeartbeatInterval != 5*time.Second {
		t.Errorf("unexpected obs intervals: %v %v", cfg.OBSReconnectInterval, cfg.OBSHeartbeatInterval)
	}
	if cfg.RedemptionPollInterval != 5*time.Second {
		t.Errorf("RedemptionPollInterval = %v", cfg.RedemptionPollInterval)
	}
	if cfg.OBSSourceKind != SourceKindImage {
		t.Errorf("OBSSourceKind = %q", cfg.OBSSourceKind)
	}
	if cfg.TwitchScopes != DefaultScopes {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
	if cfg.TwitchRedirectURI != "http://localhost:8080/api/twitch/callback" {
		t.Errorf("TwitchRedirectURI = %q", cfg.TwitchRedirectURI)
	}
}

func TestLoadIntervals(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{name: "milliseconds", value: "2500", want: 2500 * time.Millisecond},
		{name: "duration", value: "3s", want: 3 * time.Second},
		{name: "zero", value: "0", wantErr: true},
		{name: "negative duration", value: "-1s", wantErr: true},
		{name: "garbage", value: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OBS_HEARTBEAT_INTERVAL", tt.value)
			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.value)
				}
				if !strings.Contains(err.Error(), "OBS_HEARTBEAT_INTERVAL") {
					t.Errorf("error %v does not name the variable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.OBSHeartbeatInterval != tt.want {
				t.Errorf("OBSHeartbeatInterval = %v, want %v", cfg.OBSHeartbeatInterval, tt.want)
			}
		})
	}
}

func TestLoadRejectsUnknownSourceKind(t *testing.T) {
	t.Setenv("OBS_SOURCE_KIND", "video")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown source kind")
	}
}

func TestValidateTwitchAuth(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	cfg, _ := Load()
	if err := cfg.ValidateTwitchAuth(); err != nil {
		t.Errorf("expected valid auth config, got %v", err)
	}
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	cfg, _ = Load()
	if err := cfg.ValidateTwitchAuth(); err == nil {
		t.Errorf("expected error when secret missing")
	}
}

func TestFeatureToggles(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_BOT_OAUTH_TOKEN", "oauth:abc")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("ENV", "production")
	cfg, _ := Load()
	if !cfg.ChatEnabled() {
		t.Error("expected chat enabled")
	}
	if cfg.DiscordEnabled() {
		t.Error("expected discord disabled")
	}
	if cfg.IsDev() {
		t.Error("expected production mode")
	}
}
