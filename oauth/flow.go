package oauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

// Flow moves a Twitch token into the application state and back out.
type Flow struct {
	store  *state.Store
	helix  *twitchapi.HelixClient
	users  *twitchapi.UserCache
	tokens TokenStore
	log    *slog.Logger
}

// NewFlow wires a Flow. tokens may be nil when no database is configured.
func NewFlow(store *state.Store, helix *twitchapi.HelixClient, users *twitchapi.UserCache, tokens TokenStore) *Flow {
	if users == nil {
		users = twitchapi.NewUserCache(16, 10*time.Minute)
	}
	return &Flow{
		store:  store,
		helix:  helix,
		users:  users,
		tokens: tokens,
		log:    slog.Default().With(slog.String("component", "oauth")),
	}
}

// Adopt validates token by looking up its owner. On success the token, broadcaster id and
// connected flag are stored; on failure token and flag are cleared.
func (f *Flow) Adopt(ctx context.Context, token string) (twitchapi.User, error) {
	if token == "" {
		f.store.ClearAuth()
		return twitchapi.User{}, twitchapi.ErrNoToken
	}
	u, err := f.users.Lookup(ctx, f.helix, token)
	if err != nil {
		f.store.ClearAuth()
		f.store.AddLog("Error validating Twitch token", err.Error())
		f.log.Warn("twitch token rejected", slog.Any("err", err))
		return twitchapi.User{}, err
	}
	f.store.SetAccessToken(token)
	f.store.SetBroadcasterID(u.ID)
	f.store.SetTwitchConnected(true)
	f.store.AddLog("Logged in to Twitch", u.DisplayName)
	return u, nil
}

// Revalidate re-adopts the persisted token once, typically at startup. Without a token it
// does nothing.
func (f *Flow) Revalidate(ctx context.Context) error {
	tok := f.store.AccessToken()
	if tok == "" {
		return nil
	}
	_, err := f.Adopt(ctx, tok)
	return err
}

// Logout clears the local login. The token is not revoked remotely.
func (f *Flow) Logout(ctx context.Context) {
	if tok := f.store.AccessToken(); tok != "" {
		f.users.Forget(tok)
	}
	f.store.ClearAuth()
	if f.tokens != nil {
		if err := f.tokens.DeleteOAuthToken(ctx, ProviderTwitch); err != nil {
			f.log.Warn("delete stored token failed", slog.Any("err", err))
		}
	}
	f.store.AddLog("Logged out of Twitch")
}

// Refreshed swaps a refreshed access token into the state when the old one is still the
// adopted token.
func (f *Flow) Refreshed(old, cur db.OAuthToken) {
	if f.store.AccessToken() != old.AccessToken {
		return
	}
	f.users.Forget(old.AccessToken)
	f.store.SetAccessToken(cur.AccessToken)
}

// Save persists a token pair from the authorization code exchange.
func (f *Flow) Save(ctx context.Context, tok db.OAuthToken) error {
	if f.tokens == nil {
		return nil
	}
	tok.Provider = ProviderTwitch
	return f.tokens.UpsertOAuthToken(ctx, tok)
}
