package oauth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/testutil"
)

func seed(t *testing.T, d *db.DB, expiry time.Time) {
	t.Helper()
	err := d.UpsertOAuthToken(context.Background(), db.OAuthToken{
		Provider: ProviderTwitch, AccessToken: "old-access", RefreshToken: "old-refresh", Expiry: expiry, Scope: "scope1",
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func TestRefreshIfDueOutsideWindow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seed(t, d, time.Now().Add(time.Hour))

	called := false
	fn := func(context.Context, string) (*oauth2.Token, error) {
		called = true
		return &oauth2.Token{AccessToken: "new"}, nil
	}
	_, _, ok, err := RefreshIfDue(context.Background(), d, ProviderTwitch, 30*time.Minute, fn)
	if err != nil || ok {
		t.Fatalf("RefreshIfDue = %v, %v", ok, err)
	}
	if called {
		t.Error("refresh should not run for a token expiring in 1 hour with a 30 min window")
	}
}

func TestRefreshIfDueWithinWindow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seed(t, d, time.Now().Add(5*time.Minute))
	newExpiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	fn := func(_ context.Context, rt string) (*oauth2.Token, error) {
		if rt != "old-refresh" {
			t.Errorf("refresh called with %q, want old-refresh", rt)
		}
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: newExpiry}, nil
	}
	old, cur, ok, err := RefreshIfDue(context.Background(), d, ProviderTwitch, 15*time.Minute, fn)
	if err != nil || !ok {
		t.Fatalf("RefreshIfDue = %v, %v", ok, err)
	}
	if old.AccessToken != "old-access" || cur.AccessToken != "new-access" {
		t.Errorf("old=%q cur=%q", old.AccessToken, cur.AccessToken)
	}
	got, _, err := d.GetOAuthToken(context.Background(), ProviderTwitch)
	if err != nil {
		t.Fatalf("GetOAuthToken: %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Errorf("stored token = %+v", got)
	}
	if got.Scope != "scope1" {
		t.Errorf("scope = %q, want previous scope kept", got.Scope)
	}
	if !got.Expiry.Equal(newExpiry) {
		t.Errorf("expiry = %v, want %v", got.Expiry, newExpiry)
	}
}

func TestRefreshIfDueKeepsRefreshTokenWhenOmitted(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seed(t, d, time.Now().Add(-time.Minute))
	fn := func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "new-access", Expiry: time.Now().Add(time.Hour)}, nil
	}
	if _, _, ok, err := RefreshIfDue(context.Background(), d, ProviderTwitch, time.Minute, fn); err != nil || !ok {
		t.Fatalf("RefreshIfDue = %v, %v", ok, err)
	}
	got, _, _ := d.GetOAuthToken(context.Background(), ProviderTwitch)
	if got.RefreshToken != "old-refresh" {
		t.Errorf("refresh token = %q, want old-refresh", got.RefreshToken)
	}
}

func TestRefreshIfDueErrorLeavesRow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seed(t, d, time.Now().Add(time.Minute))
	fn := func(context.Context, string) (*oauth2.Token, error) { return nil, errors.New("invalid refresh token") }
	if _, _, ok, err := RefreshIfDue(context.Background(), d, ProviderTwitch, time.Hour, fn); err == nil || ok {
		t.Fatalf("expected error, got ok=%v err=%v", ok, err)
	}
	got, _, _ := d.GetOAuthToken(context.Background(), ProviderTwitch)
	if got.AccessToken != "old-access" {
		t.Errorf("row changed after failed refresh: %+v", got)
	}
}

func TestRefreshIfDueNoRow(t *testing.T) {
	d := testutil.SetupTestDB(t)
	fn := func(context.Context, string) (*oauth2.Token, error) {
		t.Error("refresh should not be called without a row")
		return nil, nil
	}
	if _, _, ok, err := RefreshIfDue(context.Background(), d, ProviderTwitch, time.Hour, fn); err != nil || ok {
		t.Fatalf("RefreshIfDue = %v, %v", ok, err)
	}
}

func TestStartRefresherCallsOnRefreshed(t *testing.T) {
	d := testutil.SetupTestDB(t)
	seed(t, d, time.Now().Add(5*time.Minute))

	var calls atomic.Int32
	fn := func(context.Context, string) (*oauth2.Token, error) {
		calls.Add(1)
		return &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: time.Now().Add(2 * time.Hour)}, nil
	}
	got := make(chan db.OAuthToken, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, d, ProviderTwitch, 50*time.Millisecond, 15*time.Minute, fn, func(_, cur db.OAuthToken) {
		got <- cur
	})

	select {
	case cur := <-got:
		if cur.AccessToken != "new-access" {
			t.Errorf("onRefreshed got %q", cur.AccessToken)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not refresh a token inside the window")
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1 (new expiry is outside the window)", n)
	}
}
