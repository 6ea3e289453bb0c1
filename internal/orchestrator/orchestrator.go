// Package orchestrator implements the Orchestrator (OR, §4.10): the
// component owning the store connection, the four background workers,
// the modification notifier and the settings row, responsible for
// startup migration, pause/resume propagation, idle aggregation and
// force rescan. Grounded on the teacher's cmd/cinevault/main.go wiring
// order (config -> db -> queue -> workers -> scheduler -> server), here
// reshaped from an HTTP server's bootstrap sequence into a library
// engine's lifecycle object with no HTTP surface of its own.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mediavault/libcatalog/internal/cacheworker"
	"github.com/mediavault/libcatalog/internal/config"
	"github.com/mediavault/libcatalog/internal/discoverer"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/parser"
	"github.com/mediavault/libcatalog/internal/store"
	"github.com/mediavault/libcatalog/internal/tasktable"
	"github.com/mediavault/libcatalog/internal/thumbnailer"
)

// InitResult reports the outcome of Orchestrator.Init (§4.10).
type InitResult int

const (
	InitOK InitResult = iota
	InitDbCorrupted
	InitDbReset
)

func (r InitResult) String() string {
	switch r {
	case InitDbCorrupted:
		return "DbCorrupted"
	case InitDbReset:
		return "DbReset"
	default:
		return "OK"
	}
}

// maxMigrationAttempts bounds how many times a single migration step is
// retried before the database is declared corrupted (§4.10).
const maxMigrationAttempts = 3

// discovererPollInterval governs how often the orchestrator samples the
// discoverer's point-in-time Idle() check, since unlike the parser pool
// the discoverer exposes no idle-changed callback of its own (§4.10
// idle aggregation).
const discovererPollInterval = 250 * time.Millisecond

// Workers is every background thread the orchestrator pauses, resumes
// and (for the discoverer and parser) idle-aggregates as a unit
// (§4.10, §5).
type Workers struct {
	Parser      *parser.Pool
	Discoverer  *discoverer.Worker
	CacheWorker *cacheworker.Worker
	Thumbnailer *thumbnailer.Worker
}

// Orchestrator owns the store connection, the workers, the modification
// notifier and the settings row, and implements the lifecycle
// operations of §4.10.
type Orchestrator struct {
	opts     *config.Options
	st       *store.Store
	table    *tasktable.Table
	workers  Workers
	notifier *Notifier

	lockFile *os.File

	pollStop chan struct{}
	pollWg   sync.WaitGroup

	mu         sync.Mutex
	discIdle   bool
	parserIdle bool
	idle       bool
	onIdleChg  func(bool)
}

// New wires an Orchestrator around an already-constructed store and set
// of workers; it does not start anything (see Init and Start).
func New(opts *config.Options, st *store.Store, table *tasktable.Table, workers Workers, notifier *Notifier) *Orchestrator {
	o := &Orchestrator{
		opts: opts, st: st, table: table, workers: workers, notifier: notifier,
		discIdle: true, parserIdle: true, idle: true,
	}
	if workers.Parser != nil {
		workers.Parser.OnIdleChanged(o.onParserIdleChanged)
	}
	if notifier != nil {
		st.AddUpdateHook(notifier.Hook)
	}
	return o
}

// OnBackgroundTasksIdleChanged registers the callback fired when the
// combined discoverer+parser idleness flips (§4.10 idle aggregation).
func (o *Orchestrator) OnBackgroundTasksIdleChanged(fn func(idle bool)) {
	o.mu.Lock()
	o.onIdleChg = fn
	o.mu.Unlock()
}

func (o *Orchestrator) onParserIdleChanged(idle bool) {
	o.mu.Lock()
	o.parserIdle = idle
	o.recomputeIdleLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) pollDiscovererIdle() {
	if o.workers.Discoverer == nil {
		return
	}
	idle := o.workers.Discoverer.Idle()
	o.mu.Lock()
	if idle != o.discIdle {
		o.discIdle = idle
		o.recomputeIdleLocked()
	}
	o.mu.Unlock()
}

// recomputeIdleLocked must be called with o.mu held.
func (o *Orchestrator) recomputeIdleLocked() {
	nowIdle := o.discIdle && o.parserIdle
	if nowIdle == o.idle {
		return
	}
	o.idle = nowIdle
	if nowIdle && o.notifier != nil {
		// Flushing before signalling idle guarantees consumers observe
		// every modification the background passes just made (§4.10).
		o.notifier.Flush()
	}
	if o.onIdleChg != nil {
		o.onIdleChg(nowIdle)
	}
}

// Init implements §4.10's initialisation sequence: acquire the lock
// file, create the thumbnail/playlist/cache subfolders, ensure the
// settings table exists, and bring the schema forward to
// CurrentModelVersion. Bootstrap creates the full current schema; a
// fresh database (no settings row yet) is then stamped
// OldestMigrationOrigin, so every migration step runs on it as a no-op
// (the steps use IF NOT EXISTS). An existing database outside
// [OldestMigrationOrigin, CurrentModelVersion] is fully reset instead of
// migrated.
func (o *Orchestrator) Init(ctx context.Context, migrations []store.Migration) (InitResult, error) {
	if o.opts.LockFile {
		lf, err := acquireLock(filepath.Join(o.opts.MLFolderPath, "ml.lock"))
		if err != nil {
			return InitOK, fmt.Errorf("orchestrator: acquire lock: %w", err)
		}
		o.lockFile = lf
	}

	for _, sub := range []string{"thumbnails", "playlists", "cache"} {
		if err := os.MkdirAll(filepath.Join(o.opts.MLFolderPath, sub), 0o755); err != nil {
			return InitOK, fmt.Errorf("orchestrator: create %s folder: %w", sub, err)
		}
	}

	if err := o.st.Bootstrap(ctx); err != nil {
		return InitOK, fmt.Errorf("orchestrator: bootstrap schema: %w", err)
	}
	if err := o.st.EnsureSettingsTable(ctx); err != nil {
		return InitOK, fmt.Errorf("orchestrator: ensure settings table: %w", err)
	}

	version, err := o.st.ReadModelVersion(ctx)
	if err != nil {
		return InitOK, fmt.Errorf("orchestrator: read model version: %w", err)
	}
	if version == 0 {
		// A brand-new database: Bootstrap just created the current
		// schema; stamping the oldest baseline makes every migration
		// step run, each a no-op here.
		version = OldestMigrationOrigin
		if err := o.st.WriteModelVersion(ctx, version); err != nil {
			return InitOK, fmt.Errorf("orchestrator: write model version: %w", err)
		}
	}

	if version < OldestMigrationOrigin || version > CurrentModelVersion {
		if err := o.resetDatabase(ctx); err != nil {
			return InitOK, fmt.Errorf("orchestrator: reset database: %w", err)
		}
		return InitDbReset, mlerrors.ErrDbReset
	}

	for _, m := range migrations {
		if version != m.From {
			continue
		}
		if err := o.runMigrationWithRetry(ctx, m); err != nil {
			return InitDbCorrupted, fmt.Errorf("%w: %v", mlerrors.ErrDbCorrupted, err)
		}
		version = m.To
		if err := o.st.WriteModelVersion(ctx, version); err != nil {
			return InitDbCorrupted, fmt.Errorf("orchestrator: write model version: %w", err)
		}
	}

	return InitOK, nil
}

func (o *Orchestrator) runMigrationWithRetry(ctx context.Context, m store.Migration) error {
	var lastErr error
	for attempt := 1; attempt <= maxMigrationAttempts; attempt++ {
		if err := o.st.ApplyMigration(ctx, m); err != nil {
			lastErr = err
			log.Printf("[orchestrator] migration %d->%d attempt %d/%d failed: %v", m.From, m.To, attempt, maxMigrationAttempts, err)
			continue
		}
		return nil
	}
	return lastErr
}

// resetDatabase implements the destructive half of §4.10's
// initialisation: back up playlists, then drop and recreate the whole
// schema at the current model version.
func (o *Orchestrator) resetDatabase(ctx context.Context) error {
	if err := o.backupPlaylists(ctx); err != nil {
		return fmt.Errorf("backup playlists: %w", err)
	}
	if err := o.st.DropAllTables(ctx); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if err := o.st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("rebuild schema: %w", err)
	}
	return o.st.WriteModelVersion(ctx, CurrentModelVersion)
}

// backupPlaylists writes every playlist and its item list to a JSON
// file under playlists/<epoch>/ before the schema is dropped, so a
// Restore task can reconstruct the user's playlists afterwards (§4.10,
// §6 layout: "playlists/<epoch>/ backup folders for migrations").
func (o *Orchestrator) backupPlaylists(ctx context.Context) error {
	rows, err := o.st.DB().QueryContext(ctx, `SELECT id, name, creation_date, nb_items, file_id FROM playlists`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type playlistBackup struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		CreationDate string `json:"creation_date"`
		NbItems      int    `json:"nb_items"`
		FileID       string `json:"file_id,omitempty"`
	}
	var backups []playlistBackup
	for rows.Next() {
		var b playlistBackup
		var fileID *string
		var created time.Time
		if err := rows.Scan(&b.ID, &b.Name, &created, &b.NbItems, &fileID); err != nil {
			return err
		}
		b.CreationDate = created.Format(time.RFC3339)
		if fileID != nil {
			b.FileID = *fileID
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(backups) == 0 {
		return nil
	}

	dir := filepath.Join(o.opts.MLFolderPath, "playlists", fmt.Sprintf("%d", time.Now().Unix()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, "playlists.json"), backups)
}

// Pause sets every worker's paused flag and returns at once (§4.10
// pause/resume). Each worker checks that flag only between units of
// work, so a unit already in flight runs to completion; Pause does not
// wait for it.
func (o *Orchestrator) Pause() {
	if o.workers.Discoverer != nil {
		o.workers.Discoverer.Pause()
	}
	if o.workers.Parser != nil {
		o.workers.Parser.Pause()
	}
	if o.workers.CacheWorker != nil {
		o.workers.CacheWorker.Pause()
	}
	if o.workers.Thumbnailer != nil {
		o.workers.Thumbnailer.Pause()
	}
}

// Resume releases every paused worker.
func (o *Orchestrator) Resume() {
	if o.workers.Discoverer != nil {
		o.workers.Discoverer.Resume()
	}
	if o.workers.Parser != nil {
		o.workers.Parser.Resume()
	}
	if o.workers.CacheWorker != nil {
		o.workers.CacheWorker.Resume()
	}
	if o.workers.Thumbnailer != nil {
		o.workers.Thumbnailer.Resume()
	}
}

// ForceRescan implements §4.10's force rescan: pause the parser so no
// worker is mutating derived state mid-delete, drop its per-folder
// caches, delete every derived table, reset every task's parse state so
// the pipeline starts over from step zero, then resume.
func (o *Orchestrator) ForceRescan(ctx context.Context) error {
	if o.workers.Parser != nil {
		o.workers.Parser.Pause()
		defer o.workers.Parser.Resume()
		o.workers.Parser.Flush()
	}
	if err := o.st.DeleteDerivedTables(ctx); err != nil {
		return fmt.Errorf("orchestrator: delete derived tables: %w", err)
	}
	if err := o.table.ResetParsing(ctx); err != nil {
		return fmt.Errorf("orchestrator: reset task parse state: %w", err)
	}
	return nil
}

// Start launches every worker plus the discoverer idle-poll loop (the
// discoverer, unlike the parser pool, exposes no idle-changed callback
// of its own).
func (o *Orchestrator) Start() {
	if o.workers.Discoverer != nil {
		o.workers.Discoverer.Start()
	}
	if o.workers.Parser != nil {
		o.workers.Parser.Start()
	}
	if o.workers.CacheWorker != nil {
		o.workers.CacheWorker.Start()
	}
	if o.workers.Thumbnailer != nil {
		o.workers.Thumbnailer.Start()
	}

	o.pollStop = make(chan struct{})
	o.pollWg.Add(1)
	go o.pollLoop()
}

func (o *Orchestrator) pollLoop() {
	defer o.pollWg.Done()
	ticker := time.NewTicker(discovererPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.pollDiscovererIdle()
		case <-o.pollStop:
			return
		}
	}
}

// Close stops every worker, the notifier, and releases the lock file.
func (o *Orchestrator) Close() error {
	if o.pollStop != nil {
		close(o.pollStop)
		o.pollWg.Wait()
	}
	if o.workers.Discoverer != nil {
		o.workers.Discoverer.Stop()
	}
	if o.workers.Parser != nil {
		o.workers.Parser.Stop()
	}
	if o.workers.CacheWorker != nil {
		o.workers.CacheWorker.Stop()
	}
	if o.workers.Thumbnailer != nil {
		o.workers.Thumbnailer.Stop()
	}
	if o.notifier != nil {
		o.notifier.Stop()
	}
	return releaseLock(o.lockFile)
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
