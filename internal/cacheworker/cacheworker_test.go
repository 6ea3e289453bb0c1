package cacheworker

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

type fakeStore struct {
	filesByMedia map[uuid.UUID]*models.File
	cacheFolder  map[string]bool
	subs         []*models.Subscription
	subUncached  map[uuid.UUID][]uuid.UUID
	clearedFlags map[uuid.UUID]bool
	nextName     int
	sweptSignal  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		filesByMedia: make(map[uuid.UUID]*models.File),
		cacheFolder:  make(map[string]bool),
		subUncached:  make(map[uuid.UUID][]uuid.UUID),
		clearedFlags: make(map[uuid.UUID]bool),
	}
}

func (s *fakeStore) FileByMediaID(mediaID uuid.UUID) (*models.File, error) {
	return s.filesByMedia[mediaID], nil
}
func (s *fakeStore) MarkCached(fileID uuid.UUID, cacheMRL string, size int64) error {
	for _, f := range s.filesByMedia {
		if f.ID == fileID {
			f.Cached = true
			f.CacheMRL = cacheMRL
			f.Size = size
			now := time.Now()
			f.CachedAt = &now
		}
	}
	return nil
}
func (s *fakeStore) MarkUncached(fileID uuid.UUID) error {
	for _, f := range s.filesByMedia {
		if f.ID == fileID {
			f.Cached = false
			delete(s.cacheFolder, f.CacheMRL)
			f.CacheMRL = ""
			f.CachedAt = nil
		}
	}
	return nil
}
func (s *fakeStore) RemoveCacheFile(cacheMRL string) error {
	delete(s.cacheFolder, cacheMRL)
	return nil
}
func (s *fakeStore) WriteCacheFile(mediaID uuid.UUID, sourceMRL string) (string, int64, error) {
	s.nextName++
	name := fmt.Sprintf("cache-%d", s.nextName)
	s.cacheFolder[name] = true
	f := s.filesByMedia[mediaID]
	return name, f.Size, nil
}
func (s *fakeStore) Subscriptions() ([]*models.Subscription, error) {
	if s.sweptSignal != nil {
		s.sweptSignal <- struct{}{}
	}
	return s.subs, nil
}
func (s *fakeStore) UncachedSubscriptionMedia(subscriptionID uuid.UUID) ([]uuid.UUID, error) {
	return s.subUncached[subscriptionID], nil
}
func (s *fakeStore) CachedSubscriptionFiles(subscriptionID uuid.UUID) ([]*models.File, error) {
	var out []*models.File
	for _, f := range s.filesByMedia {
		if f.SubscriptionID != nil && *f.SubscriptionID == subscriptionID && f.Cached {
			out = append(out, f)
		}
	}
	return out, nil
}
func (s *fakeStore) ClearNewMediaFlag(subscriptionID uuid.UUID) error {
	s.clearedFlags[subscriptionID] = true
	return nil
}
func (s *fakeStore) AllCachedFiles() ([]*models.File, error) {
	var out []*models.File
	for _, f := range s.filesByMedia {
		if f.Cached {
			out = append(out, f)
		}
	}
	return out, nil
}
func (s *fakeStore) ListCacheFolder() ([]string, error) {
	var out []string
	for name := range s.cacheFolder {
		out = append(out, name)
	}
	return out, nil
}

func TestCacheOneRespectsGlobalBudget(t *testing.T) {
	store := newFakeStore()
	w := New(store, 100)

	mediaA := uuid.New()
	store.filesByMedia[mediaA] = &models.File{ID: uuid.New(), Size: 80}
	if err := w.cacheOne(mediaA); err != nil {
		t.Fatalf("cacheOne: %v", err)
	}
	if !store.filesByMedia[mediaA].Cached {
		t.Fatalf("expected media A to be cached")
	}

	mediaB := uuid.New()
	store.filesByMedia[mediaB] = &models.File{ID: uuid.New(), Size: 50}
	if err := w.cacheOne(mediaB); err != nil {
		t.Fatalf("cacheOne: %v", err)
	}
	if store.cacheFolder["cache-1"] {
		t.Fatalf("expected A's cache file to have been removed when A was evicted to make room")
	}
	if !store.filesByMedia[mediaB].Cached {
		t.Fatalf("expected B to be cached after evicting A")
	}
	if store.filesByMedia[mediaA].Cached {
		t.Fatalf("expected A to be evicted once B needs the space")
	}
}

func TestReconcileRemovesUnclaimedFilesAndMarksMissingUncached(t *testing.T) {
	store := newFakeStore()
	claimedID := uuid.New()
	claimed := &models.File{ID: uuid.New(), Cached: true, CacheMRL: "keep-me", Size: 10}
	store.filesByMedia[claimedID] = claimed
	store.cacheFolder["keep-me"] = true
	store.cacheFolder["orphan"] = true

	missingID := uuid.New()
	missing := &models.File{ID: uuid.New(), Cached: true, CacheMRL: "gone", Size: 5}
	store.filesByMedia[missingID] = missing

	w := New(store, 1000)
	if err := w.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := store.cacheFolder["orphan"]; ok {
		t.Fatalf("expected unclaimed on-disk file to be removed")
	}
	if !store.cacheFolder["keep-me"] {
		t.Fatalf("expected the claimed file to survive reconciliation")
	}
	if store.filesByMedia[missingID].Cached {
		t.Fatalf("expected the DB row whose on-disk file vanished to be marked uncached")
	}
	if w.usedSize != 10 {
		t.Fatalf("expected usedSize to equal the one surviving cached file's size, got %d", w.usedSize)
	}
}

func TestSubscriptionSweepRespectsPerSubscriptionCapAndClearsFlag(t *testing.T) {
	store := newFakeStore()
	sub := &models.Subscription{ID: uuid.New(), MaxCachedMedia: 1}
	store.subs = []*models.Subscription{sub}

	oldMediaID := uuid.New()
	oldFile := &models.File{ID: uuid.New(), SubscriptionID: &sub.ID, Cached: true, Size: 5, CacheMRL: "old"}
	store.filesByMedia[oldMediaID] = oldFile
	store.cacheFolder["old"] = true
	oldTime := time.Now().Add(-time.Hour)
	oldFile.CachedAt = &oldTime

	newMediaID := uuid.New()
	store.filesByMedia[newMediaID] = &models.File{ID: uuid.New(), SubscriptionID: &sub.ID, Size: 5}
	store.subUncached[sub.ID] = []uuid.UUID{newMediaID}

	w := New(store, 1000)
	if err := w.runSubscriptionSweep(); err != nil {
		t.Fatalf("runSubscriptionSweep: %v", err)
	}
	if store.filesByMedia[oldMediaID].Cached {
		t.Fatalf("expected the oldest cached subscription media to be evicted to respect the per-subscription cap")
	}
	if !store.filesByMedia[newMediaID].Cached {
		t.Fatalf("expected the new media to be cached")
	}
	if !store.clearedFlags[sub.ID] {
		t.Fatalf("expected the new-media flag to be cleared")
	}
}

func TestStartStopDrainsCleanly(t *testing.T) {
	store := newFakeStore()
	w := New(store, 1000)
	w.Start()
	w.Stop()
}

func TestPauseBlocksWorkerUntilResume(t *testing.T) {
	store := newFakeStore()
	store.sweptSignal = make(chan struct{}, 1)
	w := New(store, 1000)
	w.Start()
	defer w.Stop()

	w.Pause()
	w.CacheSubscriptions()

	select {
	case <-store.sweptSignal:
		t.Fatal("worker ran the sweep while paused")
	case <-time.After(100 * time.Millisecond):
	}

	w.Resume()
	select {
	case <-store.sweptSignal:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume processing after Resume")
	}
}
