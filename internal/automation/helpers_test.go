package automation

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vdev/migrations"
)

// setupTestRepo opens a migrated in-memory database.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// pumpChain is the relay-then-speed chain used throughout the tests.
func pumpChain(timeoutMS int) chain.Chain {
	return chain.Chain{
		{Target: "hvac/pump-1/relay", Value: true},
		{Target: "hvac/pump-1/speed", Value: 2, WaitBefore: chain.StateMatch("hvac/pump-1/relay", true, timeoutMS)},
	}
}

// testDevice creates an enabled pump device with on/off transitions.
func testDevice(id, name string) *Device {
	return &Device{
		ID:      id,
		Name:    name,
		Slug:    GenerateSlug(name),
		Enabled: true,
		Transitions: map[string]chain.Chain{
			"on": pumpChain(1000),
			"off": {
				{Target: "hvac/pump-1/speed", Value: 0},
				{Target: "hvac/pump-1/relay", Value: false, WaitBefore: chain.Delay(10)},
			},
		},
	}
}
