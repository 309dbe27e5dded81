package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stoopler-tools/background-changer/crypto"
)

const upsertKV = `INSERT INTO kv(key, value, updated_at) VALUES($1,$2,$3)
	ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`

// GetValue returns the raw value for key; ok is false when the key does not exist.
func (d *DB) GetValue(ctx context.Context, key string) (value string, ok bool, err error) {
	var v sql.NullString
	err = d.QueryRowContext(ctx, d.rebind(`SELECT value FROM kv WHERE key=$1`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

// PutValue stores value under key, replacing any previous value.
func (d *DB) PutValue(ctx context.Context, key, value string) error {
	_, err := d.ExecContext(ctx, d.rebind(upsertKV), key, value, time.Now().UTC())
	return err
}

// DeleteValue removes key. Deleting a missing key is not an error.
func (d *DB) DeleteValue(ctx context.Context, key string) error {
	_, err := d.ExecContext(ctx, d.rebind(`DELETE FROM kv WHERE key=$1`), key)
	return err
}

// BlobStore persists opaque blobs in the kv table, encrypting them when the DB has an
// encryptor. It satisfies state.Persister.
type BlobStore struct {
	db *DB
}

// Blobs returns the blob view of the kv table.
func (d *DB) Blobs() *BlobStore { return &BlobStore{db: d} }

// Load returns the blob stored under key.
func (b *BlobStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := b.db.GetValue(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if b.db.enc != nil {
		pt, err := crypto.DecryptString(b.db.enc, v)
		if err != nil {
			return nil, false, fmt.Errorf("decrypt %s: %w", key, err)
		}
		v = pt
	}
	return []byte(v), true, nil
}

// Save stores blob under key.
func (b *BlobStore) Save(ctx context.Context, key string, blob []byte) error {
	v := string(blob)
	if b.db.enc != nil {
		ct, err := crypto.EncryptString(b.db.enc, v)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		v = ct
	}
	return b.db.PutValue(ctx, key, v)
}

// Delete removes key.
func (b *BlobStore) Delete(ctx context.Context, key string) error {
	return b.db.DeleteValue(ctx, key)
}
