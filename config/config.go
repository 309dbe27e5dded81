// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally against a single OBS instance
// with nothing but a Twitch client id/secret configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source kinds the fulfilment pipeline knows how to update.
const (
	SourceKindImage   = "image"
	SourceKindBrowser = "browser"
)

// DefaultScopes are the Twitch scopes needed to manage channel point rewards.
const DefaultScopes = "channel:read:redemptions channel:manage:redemptions"

type Config struct {
	// HTTP
	HTTPAddr  string
	PublicURL string
	Env       string

	// Storage
	DBDsn         string
	DataDir       string
	EncryptionKey string

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchBotToken     string

	// OBS
	OBSReconnectInterval time.Duration
	OBSHeartbeatInterval time.Duration
	OBSSourceName        string
	OBSSourceKind        string

	// Redemptions
	RedemptionPollInterval time.Duration
	AutoFulfill            bool

	// OpenAI
	OpenAIAPIKey string
	OpenAIOrgID  string

	// Discord
	DiscordBotToken  string
	DiscordChannelID string
}

// Load reads environment variables and applies defaults. Missing optional variables disable
// features (chat announcements, Discord, auto-fulfil); use ValidateTwitchAuth when the OAuth
// flow is required.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")
	cfg.PublicURL = strings.TrimRight(envOr("PUBLIC_URL", "http://localhost:8080"), "/")
	cfg.Env = strings.ToLower(os.Getenv("ENV"))

	cfg.DataDir = envOr("DATA_DIR", "data")
	cfg.DBDsn = os.Getenv("DB_DSN")
	if cfg.DBDsn == "" {
		cfg.DBDsn = "sqlite://" + cfg.DataDir + "/background-changer.db"
	}
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	if cfg.TwitchRedirectURI == "" {
		cfg.TwitchRedirectURI = cfg.PublicURL + "/api/twitch/callback"
	}
	cfg.TwitchScopes = envOr("TWITCH_SCOPES", DefaultScopes)
	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchBotToken = os.Getenv("TWITCH_BOT_OAUTH_TOKEN")

	var err error
	if cfg.OBSReconnectInterval, err = envInterval("OBS_RECONNECT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.OBSHeartbeatInterval, err = envInterval("OBS_HEARTBEAT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	cfg.OBSSourceName = os.Getenv("OBS_SOURCE_NAME")
	cfg.OBSSourceKind = strings.ToLower(envOr("OBS_SOURCE_KIND", SourceKindImage))
	if cfg.OBSSourceKind != SourceKindImage && cfg.OBSSourceKind != SourceKindBrowser {
		return nil, fmt.Errorf("invalid OBS_SOURCE_KIND %q (want image or browser)", cfg.OBSSourceKind)
	}

	if cfg.RedemptionPollInterval, err = envInterval("REDEMPTION_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	cfg.AutoFulfill = os.Getenv("AUTO_FULFILL") == "1"

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIOrgID = os.Getenv("OPENAI_ORG_ID")

	cfg.DiscordBotToken = os.Getenv("DISCORD_BOT_TOKEN")
	cfg.DiscordChannelID = os.Getenv("DISCORD_CHANNEL_ID")

	return cfg, nil
}

// ValidateTwitchAuth checks the fields needed by the OAuth authorization-code flow.
func (c *Config) ValidateTwitchAuth() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// ChatEnabled reports whether the chat announcer has credentials.
func (c *Config) ChatEnabled() bool {
	return c.TwitchChannel != "" && c.TwitchBotUsername != "" && c.TwitchBotToken != ""
}

// DiscordEnabled reports whether the Discord notifier has credentials.
func (c *Config) DiscordEnabled() bool {
	return c.DiscordBotToken != "" && c.DiscordChannelID != ""
}

// IsDev is true for local development (ENV empty, dev or development).
func (c *Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev" || c.Env == "development"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInterval parses a Go duration ("5s") or a bare number of milliseconds ("5000").
func envInterval(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("invalid %s: must be positive", key)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration or milliseconds): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
