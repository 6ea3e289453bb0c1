package thumbnailer

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

type fakeGenerator struct {
	err      error
	calls    int
}

func (g *fakeGenerator) Generate(sourceMRL, destPath string, width, height int, position float64) error {
	g.calls++
	return g.err
}

type fakeThumbStore struct {
	sourceMRL     map[uuid.UUID]string
	bySize        map[uuid.UUID]map[models.ThumbnailSizeType]*models.Thumbnail
	deleted       []uuid.UUID
	available     []uuid.UUID
	failed        []uuid.UUID
	cleanups      []models.ThumbnailCleanup
	removedFiles  []string
	removeErr     map[string]error
	deletedRows   []uuid.UUID
	sweptSignal   chan struct{}
}

func newFakeThumbStore() *fakeThumbStore {
	return &fakeThumbStore{
		sourceMRL: make(map[uuid.UUID]string),
		bySize:    make(map[uuid.UUID]map[models.ThumbnailSizeType]*models.Thumbnail),
		removeErr: make(map[string]error),
	}
}

func (s *fakeThumbStore) MediaSourceMRL(mediaID uuid.UUID) (string, error) {
	return s.sourceMRL[mediaID], nil
}
func (s *fakeThumbStore) ThumbnailForSize(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (*models.Thumbnail, error) {
	m := s.bySize[mediaID]
	if m == nil {
		return nil, nil
	}
	return m[sizeType], nil
}
func (s *fakeThumbStore) InsertCrashMarker(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (uuid.UUID, error) {
	t := &models.Thumbnail{ID: uuid.New(), Status: models.ThumbnailStatusCrash}
	if s.bySize[mediaID] == nil {
		s.bySize[mediaID] = make(map[models.ThumbnailSizeType]*models.Thumbnail)
	}
	s.bySize[mediaID][sizeType] = t
	return t.ID, nil
}
func (s *fakeThumbStore) MarkAvailable(thumbnailID uuid.UUID, path string) error {
	s.available = append(s.available, thumbnailID)
	for _, m := range s.bySize {
		for _, t := range m {
			if t.ID == thumbnailID {
				t.Status = models.ThumbnailStatusAvailable
				t.Origin = models.ThumbnailOriginMedia
				t.Owned = true
				t.MRL = path
			}
		}
	}
	return nil
}
func (s *fakeThumbStore) MarkFailure(thumbnailID uuid.UUID) error {
	s.failed = append(s.failed, thumbnailID)
	for _, m := range s.bySize {
		for _, t := range m {
			if t.ID == thumbnailID {
				t.Status = models.ThumbnailStatusFailure
			}
		}
	}
	return nil
}
func (s *fakeThumbStore) DeleteThumbnail(thumbnailID uuid.UUID) error {
	s.deleted = append(s.deleted, thumbnailID)
	for mediaID, m := range s.bySize {
		for sizeType, t := range m {
			if t.ID == thumbnailID {
				delete(m, sizeType)
				_ = mediaID
			}
		}
	}
	return nil
}
func (s *fakeThumbStore) DestPath(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) string {
	return "dest.jpg"
}
func (s *fakeThumbStore) PendingCleanups() ([]models.ThumbnailCleanup, error) {
	if s.sweptSignal != nil {
		s.sweptSignal <- struct{}{}
	}
	return s.cleanups, nil
}
func (s *fakeThumbStore) RemoveCleanupFile(filename string) error {
	s.removedFiles = append(s.removedFiles, filename)
	return s.removeErr[filename]
}
func (s *fakeThumbStore) DeleteCleanupRow(id uuid.UUID) error {
	s.deletedRows = append(s.deletedRows, id)
	return nil
}

type alwaysInterrupt struct{}

func (alwaysInterrupt) ShouldInterrupt() bool { return true }

func TestRunTaskInsertsCrashMarkerThenMarksAvailable(t *testing.T) {
	store := newFakeThumbStore()
	gen := &fakeGenerator{}
	w := New(store, gen, nil)

	mediaID := uuid.New()
	store.sourceMRL[mediaID] = "movie.mkv"
	err := w.runTask(Task{MediaID: &mediaID, SizeType: models.ThumbnailSizeThumbnail})
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	thumb := store.bySize[mediaID][models.ThumbnailSizeThumbnail]
	if thumb == nil || thumb.Status != models.ThumbnailStatusAvailable {
		t.Fatalf("expected the thumbnail to end up Available, got %+v", thumb)
	}
	if gen.calls != 1 {
		t.Fatalf("expected exactly one generate call, got %d", gen.calls)
	}
}

func TestRunTaskMarksFailureOnGeneratorError(t *testing.T) {
	store := newFakeThumbStore()
	gen := &fakeGenerator{err: errors.New("boom")}
	w := New(store, gen, nil)

	mediaID := uuid.New()
	err := w.runTask(Task{MediaID: &mediaID, SizeType: models.ThumbnailSizeThumbnail})
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	thumb := store.bySize[mediaID][models.ThumbnailSizeThumbnail]
	if thumb.Status != models.ThumbnailStatusFailure {
		t.Fatalf("expected Failure status, got %v", thumb.Status)
	}
}

func TestRunTaskRemovesCrashMarkerWhenInterruptedOnFirstAttempt(t *testing.T) {
	store := newFakeThumbStore()
	gen := &fakeGenerator{}
	w := New(store, gen, alwaysInterrupt{})

	mediaID := uuid.New()
	err := w.runTask(Task{MediaID: &mediaID, SizeType: models.ThumbnailSizeThumbnail})
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected the pre-inserted crash marker to be deleted, got %v", store.deleted)
	}
	if len(store.available) != 0 || len(store.failed) != 0 {
		t.Fatalf("expected neither Available nor Failure to be recorded on an interrupted first attempt")
	}
}

func TestRunTaskDoesNotRemoveMarkerWhenInterruptedOnRetry(t *testing.T) {
	store := newFakeThumbStore()
	mediaID := uuid.New()
	existing := &models.Thumbnail{ID: uuid.New(), Status: models.ThumbnailStatusCrash}
	store.bySize[mediaID] = map[models.ThumbnailSizeType]*models.Thumbnail{models.ThumbnailSizeThumbnail: existing}

	gen := &fakeGenerator{}
	w := New(store, gen, alwaysInterrupt{})

	err := w.runTask(Task{MediaID: &mediaID, SizeType: models.ThumbnailSizeThumbnail})
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("expected the marker to survive a retry attempt's interruption, got deleted=%v", store.deleted)
	}
}

func TestEnqueueDeduplicatesByMediaID(t *testing.T) {
	store := newFakeThumbStore()
	w := New(store, &fakeGenerator{}, nil)

	mediaID := uuid.New()
	w.Enqueue(Task{MediaID: &mediaID})
	w.Enqueue(Task{MediaID: &mediaID})
	if len(w.queue) != 1 {
		t.Fatalf("expected the second enqueue for the same media to be dropped, got queue len %d", len(w.queue))
	}
}

func TestCleanupSweepRemovesFilesAndRows(t *testing.T) {
	store := newFakeThumbStore()
	id1, id2 := uuid.New(), uuid.New()
	store.cleanups = []models.ThumbnailCleanup{
		{ID: id1, Filename: "a.jpg"},
		{ID: id2, Filename: "missing.jpg"},
	}
	store.removeErr["missing.jpg"] = nil

	w := New(store, &fakeGenerator{}, nil)
	if err := w.runCleanupSweep(); err != nil {
		t.Fatalf("runCleanupSweep: %v", err)
	}
	if len(store.deletedRows) != 2 {
		t.Fatalf("expected both cleanup rows removed, got %v", store.deletedRows)
	}
}

func TestStartStopDrainsCleanly(t *testing.T) {
	w := New(newFakeThumbStore(), &fakeGenerator{}, nil)
	w.Start()
	w.Stop()
}

func TestPauseBlocksWorkerUntilResume(t *testing.T) {
	store := newFakeThumbStore()
	store.sweptSignal = make(chan struct{}, 1)
	w := New(store, &fakeGenerator{}, nil)
	w.Start()
	defer w.Stop()

	w.Pause()
	w.Enqueue(Task{MediaID: nil})

	select {
	case <-store.sweptSignal:
		t.Fatal("worker ran the cleanup sweep while paused")
	case <-time.After(100 * time.Millisecond):
	}

	w.Resume()
	select {
	case <-store.sweptSignal:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume processing after Resume")
	}
}
