package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stoopler-tools/background-changer/crypto"
)

// OAuthToken is one row of oauth_tokens with secrets already decrypted.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// UpsertOAuthToken stores or updates the token pair for a provider. When encryption is
// enabled both secrets are encrypted and encryption_version is 1; otherwise 0.
func (d *DB) UpsertOAuthToken(ctx context.Context, tok OAuthToken) error {
	encVersion := 0
	encKeyID := ""
	access, refresh := tok.AccessToken, tok.RefreshToken
	if d.enc != nil {
		encVersion = 1
		encKeyID = "default"
		var err error
		if access, err = crypto.EncryptString(d.enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(d.enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=EXCLUDED.updated_at`
	_, err := d.ExecContext(ctx, d.rebind(q), tok.Provider, access, refresh, tok.Expiry.UTC(), tok.Scope, encVersion, encKeyID, time.Now().UTC())
	return err
}

// GetOAuthToken returns the stored row for provider; ok is false when none exists.
// Plaintext rows (encryption_version=0) are returned as-is.
func (d *DB) GetOAuthToken(ctx context.Context, provider string) (tok OAuthToken, ok bool, err error) {
	var encVersion int
	var scope sql.NullString
	row := d.QueryRowContext(ctx, d.rebind(
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`), provider)
	err = row.Scan(&tok.AccessToken, &tok.RefreshToken, &tok.Expiry, &scope, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return OAuthToken{}, false, nil
	}
	if err != nil {
		return OAuthToken{}, false, err
	}
	tok.Provider = provider
	tok.Scope = scope.String
	if encVersion == 1 {
		if d.enc == nil {
			return OAuthToken{}, false, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = crypto.DecryptString(d.enc, tok.AccessToken); err != nil {
			return OAuthToken{}, false, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = crypto.DecryptString(d.enc, tok.RefreshToken); err != nil {
			return OAuthToken{}, false, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, true, nil
}

// DeleteOAuthToken removes the provider row.
func (d *DB) DeleteOAuthToken(ctx context.Context, provider string) error {
	_, err := d.ExecContext(ctx, d.rebind(`DELETE FROM oauth_tokens WHERE provider=$1`), provider)
	return err
}
