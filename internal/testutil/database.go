package testutil

import (
	"testing"
	"time"

	"docvault/internal/database"
)

// NewTestIndex creates a new in-memory index with the schema applied and
// ManualClock timestamps stopped at Epoch. The index is closed when the test completes.
func NewTestIndex(t *testing.T) *database.SQLiteIndex {
	t.Helper()

	idx, err := database.NewSQLiteIndex(":memory:", database.Options{
		Clock:            NewManualClock(time.Time{}),
		ExpandStateCodes: true,
	})
	if err != nil {
		t.Fatalf("failed to open index: %v", err)
	}
	if err := idx.MigrateUp(); err != nil {
		idx.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		idx.Close()
	})

	return idx
}
