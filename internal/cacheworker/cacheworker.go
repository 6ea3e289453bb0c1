// Package cacheworker implements the Cache Worker (CW, §4.8): a single
// worker draining a FIFO of cache/uncache requests, enforcing a global
// size budget and per-subscription caps, and reconciling its in-memory
// used-size counter against the on-disk cache folder at startup.
// Grounded on the teacher's internal/jobs/queue.go EnqueueUnique
// (dedup-by-key enqueue), generalised from a Redis-backed multi-worker
// job queue into the single-worker FIFO §4.8 specifies.
package cacheworker

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

// Task is one FIFO entry. A nil MediaID means "run a subscription cache
// sweep pass" (§4.8).
type Task struct {
	MediaID *uuid.UUID
	Evict   bool
}

// CacheStore is the persistence and filesystem surface the worker needs.
type CacheStore interface {
	FileByMediaID(mediaID uuid.UUID) (*models.File, error)
	MarkCached(fileID uuid.UUID, cacheMRL string, size int64) error
	MarkUncached(fileID uuid.UUID) error
	RemoveCacheFile(cacheMRL string) error
	WriteCacheFile(mediaID uuid.UUID, sourceMRL string) (cacheMRL string, size int64, err error)

	Subscriptions() ([]*models.Subscription, error)
	UncachedSubscriptionMedia(subscriptionID uuid.UUID) ([]uuid.UUID, error)
	CachedSubscriptionFiles(subscriptionID uuid.UUID) ([]*models.File, error)
	ClearNewMediaFlag(subscriptionID uuid.UUID) error

	AllCachedFiles() ([]*models.File, error)
	ListCacheFolder() ([]string, error)
}

// Worker drains the FIFO, one task at a time, enforcing eviction rules.
type Worker struct {
	store       CacheStore
	maxTotalSize int64

	mu       sync.Mutex
	usedSize int64
	queue    []Task
	cond     *sync.Cond
	paused   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(store CacheStore, maxTotalSize int64) *Worker {
	w := &Worker{store: store, maxTotalSize: maxTotalSize, stop: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Reconcile implements §4.8's startup procedure: walk the on-disk cache
// folder and the DB's cached files, repairing any mismatch between them.
func (w *Worker) Reconcile() error {
	onDisk, err := w.store.ListCacheFolder()
	if err != nil {
		return err
	}
	sort.Strings(onDisk)
	present := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		present[f] = true
	}

	dbFiles, err := w.store.AllCachedFiles()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(dbFiles))
	var used int64
	for _, f := range dbFiles {
		if present[f.CacheMRL] {
			used += f.Size
			seen[f.CacheMRL] = true
			continue
		}
		if err := w.store.MarkUncached(f.ID); err != nil {
			return err
		}
	}

	for _, name := range onDisk {
		if !seen[name] {
			if err := w.store.RemoveCacheFile(name); err != nil {
				return err
			}
		}
	}

	w.mu.Lock()
	w.usedSize = used
	w.mu.Unlock()
	return nil
}

// CacheMedia enqueues a manual cache request unless the media is already
// cached.
func (w *Worker) CacheMedia(mediaID uuid.UUID) error {
	file, err := w.store.FileByMediaID(mediaID)
	if err != nil {
		return err
	}
	if file != nil && file.Cached {
		return nil
	}
	w.enqueue(Task{MediaID: &mediaID})
	return nil
}

// RemoveCached enqueues an uncache request.
func (w *Worker) RemoveCached(mediaID uuid.UUID) {
	w.enqueue(Task{MediaID: &mediaID, Evict: true})
}

// CacheSubscriptions enqueues a subscription sweep pass.
func (w *Worker) CacheSubscriptions() {
	w.enqueue(Task{MediaID: nil})
}

func (w *Worker) enqueue(t Task) {
	w.mu.Lock()
	w.queue = append(w.queue, t)
	w.cond.Signal()
	w.mu.Unlock()
}

// Start launches the single draining goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) Stop() {
	close(w.stop)
	w.mu.Lock()
	w.paused = false
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}

// Pause blocks the worker before it picks its next task, once any task
// currently in flight completes (§4.10 pause/resume).
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume releases a paused worker.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		task, ok := w.next()
		if !ok {
			return
		}
		w.run(task)
	}
}

func (w *Worker) next() (Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 || w.paused {
		select {
		case <-w.stop:
			return Task{}, false
		default:
		}
		w.cond.Wait()
		select {
		case <-w.stop:
			return Task{}, false
		default:
		}
	}
	t := w.queue[0]
	w.queue = w.queue[1:]
	return t, true
}

func (w *Worker) run(t Task) {
	if t.MediaID == nil {
		if err := w.runSubscriptionSweep(); err != nil {
			log.Printf("cacheworker: subscription sweep: %v", err)
		}
		return
	}
	if t.Evict {
		if err := w.evictMedia(*t.MediaID); err != nil {
			log.Printf("cacheworker: evict %s: %v", t.MediaID, err)
		}
		return
	}
	if err := w.cacheOne(*t.MediaID); err != nil {
		log.Printf("cacheworker: cache %s: %v", t.MediaID, err)
	}
}

// cacheOne implements one cache operation, enforcing the global budget
// (§4.8). The per-subscription cap for automatic caching is enforced by
// the caller (cacheSubscription) before this runs.
func (w *Worker) cacheOne(mediaID uuid.UUID) error {
	file, err := w.store.FileByMediaID(mediaID)
	if err != nil {
		return err
	}
	if file == nil || file.Cached {
		return nil
	}

	if err := w.ensureBudget(file.Size); err != nil {
		return err
	}

	cacheMRL, size, err := w.store.WriteCacheFile(mediaID, file.MRL)
	if err != nil {
		return err
	}
	if err := w.store.MarkCached(file.ID, cacheMRL, size); err != nil {
		return err
	}
	w.mu.Lock()
	w.usedSize += size
	w.mu.Unlock()
	return nil
}

func (w *Worker) evictMedia(mediaID uuid.UUID) error {
	file, err := w.store.FileByMediaID(mediaID)
	if err != nil {
		return err
	}
	if file == nil || !file.Cached {
		return nil
	}
	return w.evictFile(file)
}

func (w *Worker) evictFile(file *models.File) error {
	if err := w.store.RemoveCacheFile(file.CacheMRL); err != nil {
		return err
	}
	if err := w.store.MarkUncached(file.ID); err != nil {
		return err
	}
	w.mu.Lock()
	w.usedSize -= file.Size
	if w.usedSize < 0 {
		w.usedSize = 0
	}
	w.mu.Unlock()
	return nil
}

// ensureBudget evicts the globally oldest cached files, across every
// subscription, until there is room for an additional s bytes.
func (w *Worker) ensureBudget(s int64) error {
	w.mu.Lock()
	fits := w.usedSize+s <= w.maxTotalSize
	w.mu.Unlock()
	if fits {
		return nil
	}

	all, err := w.store.AllCachedFiles()
	if err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool {
		ti, tj := cachedAtOrZero(all[i]), cachedAtOrZero(all[j])
		return ti.Before(tj)
	})

	for _, f := range all {
		w.mu.Lock()
		fits := w.usedSize+s <= w.maxTotalSize
		w.mu.Unlock()
		if fits {
			return nil
		}
		if err := w.evictFile(f); err != nil {
			return err
		}
	}
	w.mu.Lock()
	fits = w.usedSize+s <= w.maxTotalSize
	w.mu.Unlock()
	if !fits {
		return fmt.Errorf("cacheworker: %d bytes do not fit in the %d byte cache budget", s, w.maxTotalSize)
	}
	return nil
}

func cachedAtOrZero(f *models.File) time.Time {
	if f.CachedAt == nil {
		return time.Time{}
	}
	return *f.CachedAt
}

// runSubscriptionSweep implements §4.8's cacheSubscriptions: for every
// subscription, cache up to maxCachedMedia items (evicting the
// subscription's own oldest cached media first if it would exceed its
// cap), then clear the new-media flag.
func (w *Worker) runSubscriptionSweep() error {
	subs, err := w.store.Subscriptions()
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := w.cacheSubscription(sub); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) cacheSubscription(sub *models.Subscription) error {
	cached, err := w.store.CachedSubscriptionFiles(sub.ID)
	if err != nil {
		return err
	}
	sort.Slice(cached, func(i, j int) bool {
		return cachedAtOrZero(cached[i]).Before(cachedAtOrZero(cached[j]))
	})

	uncached, err := w.store.UncachedSubscriptionMedia(sub.ID)
	if err != nil {
		return err
	}

	count := len(cached)
	for _, mediaID := range uncached {
		if count >= sub.MaxCachedMedia {
			if err := w.evictFile(cached[0]); err != nil {
				return err
			}
			cached = cached[1:]
			count--
		}
		if err := w.cacheOne(mediaID); err != nil {
			return err
		}
		count++
	}
	return w.store.ClearNewMediaFlag(sub.ID)
}
