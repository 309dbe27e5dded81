// Package oauth keeps the Twitch login usable: it adopts tokens into the application state,
// logs out, and refreshes the persisted token pair before it expires.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

// ProviderTwitch is the oauth_tokens key of the broadcaster login.
const ProviderTwitch = "twitch"

// TokenStore persists token pairs by provider.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (db.OAuthToken, bool, error)
	UpsertOAuthToken(ctx context.Context, tok db.OAuthToken) error
	DeleteOAuthToken(ctx context.Context, provider string) error
}

// RefreshFunc exchanges a refresh token for a new token.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// TwitchRefreshFunc refreshes against the Twitch token endpoint.
func TwitchRefreshFunc(cfg *oauth2.Config, hc *http.Client) RefreshFunc {
	return func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		return twitchapi.RefreshToken(ctx, cfg, hc, refreshToken)
	}
}

// RefreshIfDue refreshes the provider row when its remaining lifetime is within window.
// It returns the stored row before and after, and whether a refresh happened.
func RefreshIfDue(ctx context.Context, tokens TokenStore, provider string, window time.Duration, fn RefreshFunc) (old, cur db.OAuthToken, refreshed bool, err error) {
	old, ok, err := tokens.GetOAuthToken(ctx, provider)
	if err != nil || !ok || old.RefreshToken == "" {
		return old, old, false, err
	}
	if time.Until(old.Expiry) > window {
		return old, old, false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	tok, err := fn(ctx2, old.RefreshToken)
	if err != nil {
		return old, old, false, err
	}
	cur = db.OAuthToken{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        strings.TrimSpace(twitchapi.TokenScope(tok)),
	}
	if cur.RefreshToken == "" {
		cur.RefreshToken = old.RefreshToken
	}
	if cur.Scope == "" {
		cur.Scope = old.Scope
	}
	if cur.Expiry.IsZero() {
		cur.Expiry = time.Now().Add(time.Hour)
	}
	if err := tokens.UpsertOAuthToken(ctx, cur); err != nil {
		return old, old, false, fmt.Errorf("persist refreshed token: %w", err)
	}
	return old, cur, true, nil
}

// StartRefresher launches a goroutine that periodically checks the provider row and refreshes
// it when expiry falls within window. onRefreshed, if set, runs after each refresh.
func StartRefresher(ctx context.Context, tokens TokenStore, provider string, interval, window time.Duration, fn RefreshFunc, onRefreshed func(old, cur db.OAuthToken)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: scheduling jitter only
	initialJitter := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if old, cur, ok, err := RefreshIfDue(ctx, tokens, provider, window, fn); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err), slog.String("component", "oauth"))
			} else if ok {
				slog.Info("token refreshed", slog.String("provider", provider), slog.String("component", "oauth"))
				if onRefreshed != nil {
					onRefreshed(old, cur)
				}
			}

			// ±20% jitter around the interval
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: scheduling jitter only
			jitter := time.Duration(rand.Int63n(jitterRange*2+1) - jitterRange)
			next := interval + jitter
			if next < interval/2 {
				next = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}
