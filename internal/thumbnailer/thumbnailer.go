// Package thumbnailer implements the Thumbnailer Worker (TW, §4.9): a
// de-duplicating FIFO of thumbnail-generation tasks with a crash-marker
// protocol so a file that previously crashed the generator is not
// retried forever across restarts. Grounded on the teacher's
// internal/jobs/queue.go EnqueueUnique (Set-backed dedup-by-key enqueue)
// and internal/fingerprint's invoke-external-tool shape.
package thumbnailer

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

// Task is one FIFO entry. A nil MediaID triggers the pending-cleanup
// sweep (§4.9).
type Task struct {
	MediaID         *uuid.UUID
	SizeType        models.ThumbnailSizeType
	DesiredWidth    int
	DesiredHeight   int
	Position        float64
}

// Generator invokes the actual thumbnail extraction/resize at path,
// writing to destPath. Grounded on the teacher's external-tool-invoking
// workers (fingerprint, preview): the real implementation shells out to
// an image/video tool, the tests inject a fake.
type Generator interface {
	Generate(sourceMRL, destPath string, width, height int, position float64) error
}

// Store is the persistence surface the worker needs.
type Store interface {
	MediaSourceMRL(mediaID uuid.UUID) (string, error)
	ThumbnailForSize(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (*models.Thumbnail, error)
	InsertCrashMarker(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (uuid.UUID, error)
	MarkAvailable(thumbnailID uuid.UUID, path string) error
	MarkFailure(thumbnailID uuid.UUID) error
	DeleteThumbnail(thumbnailID uuid.UUID) error
	DestPath(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) string

	PendingCleanups() ([]models.ThumbnailCleanup, error)
	// RemoveCleanupFile deletes filename from the thumbnail cache
	// directory. It returns nil both when the removal succeeds and when
	// the file is already gone (ENOENT) — only a genuine removal failure
	// is a non-nil error (§4.9 step 5).
	RemoveCleanupFile(filename string) error
	DeleteCleanupRow(id uuid.UUID) error
}

// InterruptProbe lets the worker notice a shutdown request mid-task
// (§4.9 step 5: "the worker itself was interrupted").
type InterruptProbe interface {
	ShouldInterrupt() bool
}

type noInterrupt struct{}

func (noInterrupt) ShouldInterrupt() bool { return false }

// Worker drains the FIFO, de-duplicating by media id via an auxiliary
// set so the same media is never queued twice concurrently.
type Worker struct {
	store     Store
	generator Generator
	probe     InterruptProbe

	mu       sync.Mutex
	queue    []Task
	queued   map[uuid.UUID]bool
	cond     *sync.Cond
	paused   bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(store Store, generator Generator, probe InterruptProbe) *Worker {
	if probe == nil {
		probe = noInterrupt{}
	}
	w := &Worker{store: store, generator: generator, probe: probe, queued: make(map[uuid.UUID]bool), stop: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Enqueue adds a thumbnail request unless this media is already queued.
// A nil mediaID (cleanup sweep) is never deduplicated.
func (w *Worker) Enqueue(t Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.MediaID != nil {
		if w.queued[*t.MediaID] {
			return
		}
		w.queued[*t.MediaID] = true
	}
	w.queue = append(w.queue, t)
	w.cond.Signal()
}

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
	if t.MediaID != nil {
		delete(w.queued, *t.MediaID)
	}
	return t, true
}

func (w *Worker) run(t Task) {
	if t.MediaID == nil {
		if err := w.runCleanupSweep(); err != nil {
			log.Printf("thumbnailer: cleanup sweep: %v", err)
		}
		return
	}
	if err := w.runTask(t); err != nil {
		log.Printf("thumbnailer: task for media %s: %v", *t.MediaID, err)
	}
}

// runTask implements the §4.9 per-task protocol.
func (w *Worker) runTask(t Task) error {
	mediaID := *t.MediaID

	existing, err := w.store.ThumbnailForSize(mediaID, t.SizeType)
	if err != nil {
		return err
	}

	if existing != nil && existing.Status == models.ThumbnailStatusCrash {
		// A crash marker left by an earlier run: do not retry.
		return nil
	}
	firstAttempt := existing == nil
	var thumbnailID uuid.UUID
	if existing == nil {
		id, err := w.store.InsertCrashMarker(mediaID, t.SizeType)
		if err != nil {
			return err
		}
		thumbnailID = id
	} else {
		thumbnailID = existing.ID
	}

	sourceMRL, err := w.store.MediaSourceMRL(mediaID)
	if err != nil {
		return err
	}
	destPath := w.store.DestPath(mediaID, t.SizeType)

	genErr := w.generator.Generate(sourceMRL, destPath, t.DesiredWidth, t.DesiredHeight, t.Position)

	if w.probe.ShouldInterrupt() && firstAttempt {
		return w.store.DeleteThumbnail(thumbnailID)
	}

	if genErr != nil {
		return w.store.MarkFailure(thumbnailID)
	}
	return w.store.MarkAvailable(thumbnailID, destPath)
}

// runCleanupSweep implements the mediaId==0 pending-cleanup pass.
func (w *Worker) runCleanupSweep() error {
	pending, err := w.store.PendingCleanups()
	if err != nil {
		return err
	}
	for _, c := range pending {
		if err := w.store.RemoveCleanupFile(c.Filename); err != nil {
			continue
		}
		if err := w.store.DeleteCleanupRow(c.ID); err != nil {
			return err
		}
	}
	return nil
}
