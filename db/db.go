// Package db provides the database connection, schema migration, and the small data access
// helpers the service needs: a key/value blob table for persisted state and the oauth_tokens
// table for the Twitch token pair. Postgres (pgx) and SQLite (modernc) are both supported;
// SQLite is the default for a single streamer running the panel locally.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure-go sqlite driver registered as 'sqlite'

	"github.com/stoopler-tools/background-changer/crypto"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB wraps *sql.DB with its dialect and the optional encryptor used for secrets at rest.
type DB struct {
	*sql.DB
	dialect Dialect
	enc     crypto.Encryptor
}

// Open connects using a DSN of the form postgres://... or sqlite://<path>.
// enc may be nil, in which case values are stored in plaintext.
func Open(dsn string, enc crypto.Encryptor) (*DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &DB{DB: sqldb, dialect: DialectPostgres, enc: enc}, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn has no path")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		sqldb, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer; also keeps :memory: databases on a single connection
		sqldb.SetMaxOpenConns(1)
		if path != ":memory:" {
			if _, err := sqldb.Exec("PRAGMA journal_mode=WAL"); err != nil {
				slog.Warn("sqlite WAL mode unavailable", slog.Any("err", err), slog.String("component", "db"))
			}
		}
		return &DB{DB: sqldb, dialect: DialectSQLite, enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DSN %q (want postgres:// or sqlite://)", dsn)
	}
}

// EncryptorFromKey builds the AES encryptor for ENCRYPTION_KEY. An empty key disables
// encryption and returns (nil, nil).
func EncryptorFromKey(key string) (crypto.Encryptor, error) {
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, persisted state and tokens will be stored in plaintext", slog.String("component", "db_encryption"))
		return nil, nil
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	slog.Info("at-rest encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	return enc, nil
}

// Dialect returns the SQL flavour.
func (d *DB) Dialect() Dialect { return d.dialect }

// Encrypted reports whether values are encrypted at rest.
func (d *DB) Encrypted() bool { return d.enc != nil }

// rebind rewrites $N placeholders to ? for sqlite.
func (d *DB) rebind(q string) string {
	if d.dialect != DialectSQLite {
		return q
	}
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '$' {
			j := i + 1
			for j < len(q) && q[j] >= '0' && q[j] <= '9' {
				j++
			}
			if j > i+1 {
				if _, err := strconv.Atoi(q[i+1 : j]); err == nil {
					b.WriteByte('?')
					i = j - 1
					continue
				}
			}
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Migrate applies idempotent schema statements. It is the fallback when versioned
// migrations cannot run (for example an existing database created before them).
func Migrate(ctx context.Context, d *DB) error {
	ts := "TIMESTAMPTZ"
	if d.dialect == DialectSQLite {
		ts = "TIMESTAMP"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at ` + ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at ` + ts + `,
			scope TEXT,
			updated_at ` + ts + `,
			encryption_version INTEGER DEFAULT 0,
			encryption_key_id TEXT
		)`,
	}
	for i, s := range stmts {
		if _, err := d.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s migrate step %d failed: %w", d.dialect, i, err)
		}
	}
	return nil
}
