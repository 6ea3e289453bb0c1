package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/mediavault/libcatalog/internal/cacheworker"
	"github.com/mediavault/libcatalog/internal/config"
	"github.com/mediavault/libcatalog/internal/discoverer"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/store"
	"github.com/mediavault/libcatalog/internal/thumbnailer"
)

func TestIdleAggregationRequiresBothWorkersIdle(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Stop()

	o := &Orchestrator{notifier: notifier, discIdle: true, parserIdle: true, idle: true}

	var mu sync.Mutex
	var transitions []bool
	o.OnBackgroundTasksIdleChanged(func(idle bool) {
		mu.Lock()
		transitions = append(transitions, idle)
		mu.Unlock()
	})

	o.mu.Lock()
	o.discIdle = false
	o.recomputeIdleLocked()
	o.mu.Unlock()

	o.onParserIdleChanged(false)

	o.mu.Lock()
	o.discIdle = true
	o.recomputeIdleLocked()
	o.mu.Unlock()

	o.onParserIdleChanged(true)

	mu.Lock()
	defer mu.Unlock()
	want := []bool{false, true}
	if len(transitions) != len(want) || transitions[0] != want[0] || transitions[1] != want[1] {
		t.Fatalf("got %v want %v", transitions, want)
	}
}

func TestIdleAggregationFlushesNotifierBeforeSignallingIdle(t *testing.T) {
	notifier := NewNotifier()
	defer notifier.Stop()

	var mu sync.Mutex
	var order []string
	notifier.Listen(func(Notification) {
		mu.Lock()
		order = append(order, "notified")
		mu.Unlock()
	})
	notifier.Hook("files", "update", "123")

	o := &Orchestrator{notifier: notifier, discIdle: false, parserIdle: true, idle: false}
	o.OnBackgroundTasksIdleChanged(func(idle bool) {
		if idle {
			mu.Lock()
			order = append(order, "idle")
			mu.Unlock()
		}
	})

	o.mu.Lock()
	o.discIdle = true
	o.recomputeIdleLocked()
	o.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"notified", "idle"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("got %v want %v", order, want)
	}
}

func TestPauseResumePropagatesToDiscoverer(t *testing.T) {
	handled := make(chan discoverer.RequestType, 1)
	w := discoverer.New(func(req discoverer.Request, probe discoverer.InterruptProbe) {
		handled <- req.Type
	})
	w.Start()
	defer w.Stop()

	o := &Orchestrator{workers: Workers{Discoverer: w}}
	o.Pause()
	w.Enqueue(discoverer.Request{Type: discoverer.AddRoot, Target: discoverer.Target{Root: "/a"}})

	select {
	case <-handled:
		t.Fatal("discoverer processed a request while the orchestrator was paused")
	case <-time.After(100 * time.Millisecond):
	}

	o.Resume()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("discoverer did not resume after Orchestrator.Resume")
	}
}

type fakeCacheStore struct {
	swept chan struct{}
}

func (f *fakeCacheStore) FileByMediaID(uuid.UUID) (*models.File, error) { return nil, nil }
func (f *fakeCacheStore) MarkCached(uuid.UUID, string, int64) error     { return nil }
func (f *fakeCacheStore) MarkUncached(uuid.UUID) error                  { return nil }
func (f *fakeCacheStore) RemoveCacheFile(string) error                  { return nil }
func (f *fakeCacheStore) WriteCacheFile(uuid.UUID, string) (string, int64, error) {
	return "", 0, nil
}
func (f *fakeCacheStore) Subscriptions() ([]*models.Subscription, error) {
	f.swept <- struct{}{}
	return nil, nil
}
func (f *fakeCacheStore) UncachedSubscriptionMedia(uuid.UUID) ([]uuid.UUID, error) { return nil, nil }
func (f *fakeCacheStore) CachedSubscriptionFiles(uuid.UUID) ([]*models.File, error) {
	return nil, nil
}
func (f *fakeCacheStore) ClearNewMediaFlag(uuid.UUID) error      { return nil }
func (f *fakeCacheStore) AllCachedFiles() ([]*models.File, error) { return nil, nil }
func (f *fakeCacheStore) ListCacheFolder() ([]string, error)      { return nil, nil }

func TestPauseResumePropagatesToCacheWorker(t *testing.T) {
	fs := &fakeCacheStore{swept: make(chan struct{}, 1)}
	cw := cacheworker.New(fs, 1000)
	cw.Start()
	defer cw.Stop()

	o := &Orchestrator{workers: Workers{CacheWorker: cw}}
	o.Pause()
	cw.CacheSubscriptions()

	select {
	case <-fs.swept:
		t.Fatal("cache worker ran the subscription sweep while the orchestrator was paused")
	case <-time.After(100 * time.Millisecond):
	}

	o.Resume()
	select {
	case <-fs.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("cache worker did not resume after Orchestrator.Resume")
	}
}

type fakeThumbStore struct {
	swept chan struct{}
}

func (f *fakeThumbStore) MediaSourceMRL(uuid.UUID) (string, error) { return "", nil }
func (f *fakeThumbStore) ThumbnailForSize(uuid.UUID, models.ThumbnailSizeType) (*models.Thumbnail, error) {
	return nil, nil
}
func (f *fakeThumbStore) InsertCrashMarker(uuid.UUID, models.ThumbnailSizeType) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (f *fakeThumbStore) MarkAvailable(uuid.UUID, string) error { return nil }
func (f *fakeThumbStore) MarkFailure(uuid.UUID) error           { return nil }
func (f *fakeThumbStore) DeleteThumbnail(uuid.UUID) error       { return nil }
func (f *fakeThumbStore) DestPath(uuid.UUID, models.ThumbnailSizeType) string { return "" }
func (f *fakeThumbStore) PendingCleanups() ([]models.ThumbnailCleanup, error) {
	f.swept <- struct{}{}
	return nil, nil
}
func (f *fakeThumbStore) RemoveCleanupFile(string) error  { return nil }
func (f *fakeThumbStore) DeleteCleanupRow(uuid.UUID) error { return nil }

type fakeGenerator struct{}

func (fakeGenerator) Generate(sourceMRL, destPath string, width, height int, position float64) error {
	return nil
}

func TestPauseResumePropagatesToThumbnailer(t *testing.T) {
	fs := &fakeThumbStore{swept: make(chan struct{}, 1)}
	tw := thumbnailer.New(fs, fakeGenerator{}, nil)
	tw.Start()
	defer tw.Stop()

	o := &Orchestrator{workers: Workers{Thumbnailer: tw}}
	o.Pause()
	tw.Enqueue(thumbnailer.Task{MediaID: nil})

	select {
	case <-fs.swept:
		t.Fatal("thumbnailer ran the cleanup sweep while the orchestrator was paused")
	case <-time.After(100 * time.Millisecond):
	}

	o.Resume()
	select {
	case <-fs.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("thumbnailer did not resume after Orchestrator.Resume")
	}
}

func TestInitBootstrapsFreshDatabaseAndWritesBaselineVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))                  // Bootstrap
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))                  // EnsureSettingsTable
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"db_model_version"})) // ReadModelVersion: no row yet
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))                  // WriteModelVersion(OldestMigrationOrigin)

	st := store.Open(db)
	opts := &config.Options{MLFolderPath: t.TempDir()}
	o := New(opts, st, nil, Workers{}, nil)

	result, err := o.Init(context.Background(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if result != InitOK {
		t.Fatalf("expected InitOK, got %v", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInitResetsOutOfRangeStoredVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // Init's Bootstrap
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // EnsureSettingsTable
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"db_model_version"}).AddRow(5))
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"id", "name", "creation_date", "nb_items", "file_id"})) // backupPlaylists: none
	for i := 0; i < 21; i++ {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // DropAllTables
	}
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // resetDatabase's rebuild Bootstrap
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0)) // WriteModelVersion(CurrentModelVersion)

	st := store.Open(db)
	opts := &config.Options{MLFolderPath: t.TempDir()}
	o := New(opts, st, nil, Workers{}, nil)

	result, err := o.Init(context.Background(), nil)
	if result != InitDbReset {
		t.Fatalf("expected InitDbReset, got %v (err=%v)", result, err)
	}
	if !errors.Is(err, mlerrors.ErrDbReset) {
		t.Fatalf("expected mlerrors.ErrDbReset, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunMigrationWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	for i := 0; i < maxMigrationAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	st := store.Open(db)
	o := &Orchestrator{st: st}
	m := store.Migration{From: 1, To: 2, Run: func(ctx context.Context, tx *store.Tx) error {
		return errors.New("boom")
	}}

	if err := o.runMigrationWithRetry(context.Background(), m); err == nil {
		t.Fatal("expected the migration to keep failing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
