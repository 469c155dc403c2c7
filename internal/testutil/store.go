package testutil

import (
	"testing"

	"torrent-gateway/internal/store"
)

// NewStore opens a fresh, migrated in-memory SQLite store scoped to
// the calling test. The database is named after the test, so each test
// gets its own; calls made within one test share it.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
