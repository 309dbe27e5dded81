// Package twitchapi contains helpers to interact with the Twitch Helix API on behalf of
// the broadcaster: user lookup, channel point custom rewards and their redemptions.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stoopler-tools/background-changer/telemetry"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// APIError is a non-2xx Helix response. Error returns the remote message alone so it can
// be shown to the user as is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("twitch api error: %d %s", e.Status, http.StatusText(e.Status))
}

// HelixClient calls Helix with the broadcaster's user token.
type HelixClient struct {
	ClientID   string
	Tokens     TokenProvider
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultBaseURL
}

// do sends one request. body, when non-nil, is JSON encoded; out, when non-nil, receives the
// decoded response. endpoint labels the request in metrics.
func (hc *HelixClient) do(ctx context.Context, endpoint, method, path string, q url.Values, body, out any) error {
	if hc.Tokens == nil {
		return ErrNoToken
	}
	tok, err := hc.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return ErrNoToken
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	u := hc.baseURL() + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordHelix(endpoint, 0)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.RecordHelix(endpoint, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(b, &body)
	if body.Message == "" {
		body.Message = strings.TrimSpace(string(b))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Message}
}

// User is a Twitch account.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type usersResponse struct {
	Data []User `json:"data"`
}

// GetUser returns the owner of the access token.
func (hc *HelixClient) GetUser(ctx context.Context) (User, error) {
	var body usersResponse
	if err := hc.do(ctx, "users", http.MethodGet, "/users", nil, nil, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user not found")
	}
	return body.Data[0], nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body usersResponse
	if err := hc.do(ctx, "users", http.MethodGet, "/users", url.Values{"login": {login}}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}
