package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/telemetry"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

const (
	tokenCookie    = "twitch_access_token"
	tokenCookieAge = 7 * 24 * time.Hour
	oauthStateTTL  = 10 * time.Minute
)

func (h *Handlers) setTokenCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !h.Config.IsDev(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	}
	if maxAge <= 0 {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// HandleTwitchOAuthStart redirects to the Twitch authorize page.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil || h.OAuth.ClientID == "" || h.OAuth.RedirectURL == "" {
		writeError(w, http.StatusBadRequest, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)")
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state generation failed")
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		writeError(w, http.StatusServiceUnavailable, "too many pending logins")
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(h.OAuth, st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, stores the token pair and hands the access
// token to the browser in an HTTP-only cookie.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		writeError(w, http.StatusBadRequest, "missing code/state")
		return
	}
	if !h.consumeOAuthState(st) {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	ctx := r.Context()
	tok, err := twitchapi.ExchangeAuthCode(ctx, h.OAuth, h.OAuthHTTPClient, code)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("twitch code exchange failed", slog.Any("err", err), slog.String("component", "oauth"))
		writeError(w, http.StatusBadGateway, "failed to authenticate with Twitch")
		return
	}
	if h.Auth != nil {
		row := db.OAuthToken{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
			Scope:        twitchapi.TokenScope(tok),
		}
		if err := h.Auth.Save(ctx, row); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("store twitch token failed", slog.Any("err", err), slog.String("component", "oauth"))
			writeError(w, http.StatusInternalServerError, "failed to store token")
			return
		}
	}
	h.setTokenCookie(w, tok.AccessToken, tokenCookieAge)
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleCheckToken reports the token cookie, if any.
func (h *Handlers) HandleCheckToken(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(tokenCookie)
	if err != nil || c.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"token": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": c.Value})
}

func (h *Handlers) HandleClearToken(w http.ResponseWriter, r *http.Request) {
	h.setTokenCookie(w, "", 0)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type sessionRequest struct {
	Token string `json:"token"`
}

// HandleSession adopts a token from the body or the cookie, then clears the cookie.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token := req.Token
	if token == "" {
		if c, err := r.Cookie(tokenCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		writeErr(w, twitchapi.ErrNoToken)
		return
	}
	h.setTokenCookie(w, "", 0)
	u, err := h.Auth.Adopt(r.Context(), token)
	if err != nil {
		var apiErr *twitchapi.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			writeError(w, http.StatusUnauthorized, "Twitch rejected the token")
			return
		}
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "user": u})
}

// HandleLogout drops the local login. The token is not revoked at Twitch.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.Auth.Logout(r.Context())
	h.setTokenCookie(w, "", 0)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
