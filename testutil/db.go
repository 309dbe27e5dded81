package testutil

import (
	"os"
	"testing"

	"github.com/stoopler-tools/background-changer/db"
)

// SetupTestDB opens a migrated database. It uses TEST_PG_DSN when set and an in-memory
// SQLite database otherwise.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		dsn = "sqlite://:memory:"
	}
	database, err := db.Open(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
