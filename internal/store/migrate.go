package store

import (
	"context"
	"fmt"
)

// Migration is a single schema step; From/To are the model versions it
// bridges (§4.10: "migrations run sequentially, 15→16, 16→17, ...").
type Migration struct {
	From int
	To   int
	Run  func(ctx context.Context, tx *Tx) error
}

// ApplyMigration runs a single migration step in its own transaction,
// matching the teacher's internal/db/db.go Migrate loop but scoped to
// one step at a time so the orchestrator can bound retries per step
// (§4.10: "up to three attempts before declaring the DB corrupted").
func (s *Store) ApplyMigration(ctx context.Context, m Migration) error {
	return s.WithWriteTx(ctx, func(tx *Tx) error {
		if err := m.Run(ctx, tx); err != nil {
			return fmt.Errorf("migration %d->%d: %w", m.From, m.To, err)
		}
		return nil
	})
}

// EnsureSettingsTable creates the settings row table used to persist
// dbModelVersion, idempotently.
func (s *Store) EnsureSettingsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ml_settings (
		id INTEGER PRIMARY KEY DEFAULT 1,
		db_model_version INTEGER NOT NULL DEFAULT 0,
		CHECK (id = 1)
	)`)
	return err
}

// ReadModelVersion returns the currently stored model version, or 0 if
// no settings row exists yet (a brand-new database).
func (s *Store) ReadModelVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT db_model_version FROM ml_settings WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

// WriteModelVersion upserts the settings row's model version.
func (s *Store) WriteModelVersion(ctx context.Context, v int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ml_settings (id, db_model_version) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET db_model_version = EXCLUDED.db_model_version`, v)
	return err
}
