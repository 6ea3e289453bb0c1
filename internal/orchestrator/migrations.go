package orchestrator

import (
	"context"

	"github.com/mediavault/libcatalog/internal/store"
)

// OldestMigrationOrigin and CurrentModelVersion bound the range of
// stored model versions this binary knows how to bring forward. A
// stored version outside this range forces a full reset rather than an
// attempted migration (§4.10).
const (
	OldestMigrationOrigin = 15
	CurrentModelVersion   = 18
)

// DefaultMigrations is the sequential migration chain this binary
// ships with (§4.10: "migrations run sequentially, 15->16, 16->17,
// ..."). internal/store's Bootstrap already creates the current schema,
// including what these steps add; a brand-new database is stamped
// OldestMigrationOrigin, so the steps run on it as no-ops (each uses IF
// NOT EXISTS) and bring an existing, older database forward.
func DefaultMigrations() []store.Migration {
	return []store.Migration{
		{From: 15, To: 16, Run: migrateAddCacheColumns},
		{From: 16, To: 17, Run: migrateAddThumbnailCleanups},
		{From: 17, To: 18, Run: migrateAddTaskRequeuedAt},
	}
}

func migrateAddCacheColumns(ctx context.Context, tx *store.Tx) error {
	_, err := tx.Exec(`ALTER TABLE files
		ADD COLUMN IF NOT EXISTS cached BOOLEAN NOT NULL DEFAULT false,
		ADD COLUMN IF NOT EXISTS cached_at TIMESTAMPTZ,
		ADD COLUMN IF NOT EXISTS cache_mrl TEXT NOT NULL DEFAULT ''`)
	return err
}

func migrateAddThumbnailCleanups(ctx context.Context, tx *store.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS thumbnail_cleanups (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL
	)`)
	return err
}

func migrateAddTaskRequeuedAt(ctx context.Context, tx *store.Tx) error {
	_, err := tx.Exec(`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS requeued_at TIMESTAMPTZ`)
	return err
}
