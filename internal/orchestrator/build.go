package orchestrator

// Build assembles the full engine — FS registry, Task Table, FS
// Discoverer, Discoverer Worker, Parser, Media Analyzer, Cache Worker
// and Thumbnailer — into one running Orchestrator, the concrete
// construction §4.10 describes in the abstract and that the teacher's
// cmd/cinevault/main.go performs for CineVault's own config->db->
// workers->scheduler chain. This is the only place every package in
// the module is imported together.

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mediavault/libcatalog/internal/analyzer"
	"github.com/mediavault/libcatalog/internal/cacheworker"
	"github.com/mediavault/libcatalog/internal/config"
	"github.com/mediavault/libcatalog/internal/discoverer"
	"github.com/mediavault/libcatalog/internal/fs"
	"github.com/mediavault/libcatalog/internal/fsdiscoverer"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/mrl"
	"github.com/mediavault/libcatalog/internal/parser"
	"github.com/mediavault/libcatalog/internal/store"
	"github.com/mediavault/libcatalog/internal/tasktable"
	"github.com/mediavault/libcatalog/internal/thumbnailer"
)

// Engine bundles the constructed Orchestrator with the pieces a host
// application still needs direct handles to (enqueueing an AddRoot
// request, running a manual cache pass, closing the store on exit).
type Engine struct {
	*Orchestrator
	Registry   *fs.Registry
	Store      *store.Store
	Table      *tasktable.Table
	Scheduler  *Scheduler
	Discoverer *discoverer.Worker
}

// defaultCacheBudget is the fallback global cache size cap (bytes) when
// the host application does not override it via ML_CACHE_BUDGET_BYTES.
const defaultCacheBudget = 10 << 30 // 10 GiB

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// deviceCallback bridges fs.FileSystemFactory.Start's mount/unmount
// events into both the longest-prefix registry ResolveDevice needs and
// the persisted Device row the discoverer's handler resolves folders
// against.
type deviceCallback struct {
	registry *fs.Registry
	repo     *discoveryRepo
	scheme   string
	network  bool
}

func (d *deviceCallback) OnDeviceMounted(deviceUUID, mountpoint string, removable bool) {
	d.registry.RegisterMountpoint(d.scheme, deviceUUID, mountpoint)
	if _, err := d.repo.EnsureDevice(deviceUUID, d.scheme, removable, d.network); err != nil {
		log.Printf("[orchestrator] persist device %s: %v", deviceUUID, err)
	}
}

func (d *deviceCallback) OnDeviceUnmounted(deviceUUID string) {
	if err := d.repo.MarkDeviceMissing(deviceUUID); err != nil {
		log.Printf("[orchestrator] mark device missing %s: %v", deviceUUID, err)
	}
}

// Build wires every component together against opts and returns a
// ready-to-Init Engine. It does not call Init or Start — the caller
// decides when the engine actually begins touching disk and database.
func Build(opts *config.Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	st, err := store.Connect(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("build: connect store: %w", err)
	}

	table := tasktable.New(st)
	registry := fs.NewRegistry()

	discovery := &discoveryRepo{st: st, table: table, registry: registry}
	crawler := fsdiscoverer.New(registry, discovery)

	dw := discoverer.New(handlerFor(crawler, discovery))

	localFactory := fs.NewLocalFactory(registry)
	registry.Register(localFactory)
	localCB := &deviceCallback{registry: registry, repo: discovery, scheme: "file"}
	if err := localFactory.Start(localCB); err != nil {
		st.Close()
		return nil, fmt.Errorf("build: start local fs factory: %w", err)
	}
	for _, extra := range opts.ExtraFSFactories {
		if f, ok := extra.(fs.FileSystemFactory); ok {
			registry.Register(f)
		}
	}

	analysis := &analysisRepo{st: st, table: table}
	az := analyzer.New(analysis, analysis, analysis)

	ffprobePath := env("ML_FFPROBE_PATH", "ffprobe")
	ffmpegPath := env("ML_FFMPEG_PATH", "ffmpeg")

	services := []parser.Service{
		analyzer.NewExtractionService(analyzer.NewFFprobeExtractor(ffprobePath)),
		analyzer.NewAnalysisService(az),
		analyzer.NewLinkingService(az),
	}
	for _, extra := range opts.ExtraParserServices {
		if svc, ok := extra.(parser.Service); ok {
			services = append(services, svc)
		}
	}
	pool := parser.New(st, table, services, opts.ParserWorkers)

	cache := &cacheRepo{st: st, cacheRoot: filepath.Join(opts.MLFolderPath, "cache")}
	cw := cacheworker.New(cache, defaultCacheBudget)

	thumbs := &thumbRepo{st: st, thumbnailRoot: filepath.Join(opts.MLFolderPath, "thumbnails")}
	tw := thumbnailer.New(thumbs, thumbnailer.NewFFmpegGenerator(ffmpegPath, ffprobePath), nil)

	notifier := NewNotifier()
	st.AddUpdateHook(notifier.Hook)

	workers := Workers{Parser: pool, Discoverer: dw, CacheWorker: cw, Thumbnailer: tw}
	orch := New(opts, st, table, workers, notifier)

	sched := NewScheduler()
	if err := sched.ScheduleSubscriptionSweep(cw, env("ML_SUBSCRIPTION_CRON", "0 * * * *")); err != nil {
		st.Close()
		return nil, fmt.Errorf("build: schedule subscription sweep: %w", err)
	}

	return &Engine{Orchestrator: orch, Registry: registry, Store: st, Table: table, Scheduler: sched, Discoverer: dw}, nil
}

// AddRoot resolves an absolute local filesystem path to a file:// mrl
// and enqueues an AddRoot request on the discoverer, the entry point a
// host application uses to register a folder to watch (§4.4, §4.10).
func (e *Engine) AddRoot(absPath string) {
	abs, err := filepath.Abs(absPath)
	if err != nil {
		abs = absPath
	}
	root := mrl.EncodeLocal(abs)
	e.Discoverer.Enqueue(discoverer.Request{Type: discoverer.AddRoot, Target: discoverer.Target{Root: root}})
}

// handlerFor builds the discoverer.Handler closure: it resolves a
// request's target root to a persisted Device+Folder pair and drives
// the FS Discoverer's crawl, or acts directly on folders for the
// lighter-weight Remove/Ban/Unban/ReloadDevice requests (§4.4, §4.5).
func handlerFor(crawler *fsdiscoverer.Crawler, repo *discoveryRepo) discoverer.Handler {
	return func(req discoverer.Request, probe discoverer.InterruptProbe) {
		ctx := context.Background()
		switch req.Type {
		case discoverer.AddRoot, discoverer.Reload:
			crawlRoot(ctx, crawler, repo, req.Target.Root, probe)
		case discoverer.Remove:
			removeRoot(repo, req.Target.Root)
		case discoverer.Ban, discoverer.Unban:
			setRootBanned(repo, req.Target.Root, req.Type == discoverer.Ban)
		case discoverer.ReloadDevice:
			reloadDevice(ctx, crawler, repo, req.Target.DeviceID, probe)
		}
	}
}

// resolveDeviceRow finds the longest-prefix-matching mounted device for
// rootMRL in the registry, then the store row id persisted for it —
// the registry only knows mountpoints, the store only knows rows, and
// a root mrl needs both before a Folder can be created or looked up.
func resolveDeviceRow(repo *discoveryRepo, rootMRL string) (uuid.UUID, error) {
	deviceUUID, _, _, ok := repo.registry.ResolveDevice(rootMRL)
	if !ok {
		return uuid.Nil, mlerrors.ErrUnknownScheme
	}
	return repo.DeviceIDByUUID(deviceUUID)
}

func crawlRoot(ctx context.Context, crawler *fsdiscoverer.Crawler, repo *discoveryRepo, rootMRL string, probe fsdiscoverer.InterruptProbe) {
	deviceID, err := resolveDeviceRow(repo, rootMRL)
	if err != nil {
		log.Printf("[orchestrator] resolve device for root %s: %v", rootMRL, err)
		return
	}
	folder, err := repo.EnsureRootFolder(deviceID, rootMRL)
	if err != nil {
		log.Printf("[orchestrator] ensure root folder %s: %v", rootMRL, err)
		return
	}
	if err := crawler.CrawlRoot(ctx, rootMRL, folder, probe); err != nil {
		log.Printf("[orchestrator] crawl root %s: %v", rootMRL, err)
	}
}

func removeRoot(repo *discoveryRepo, rootMRL string) {
	deviceID, err := resolveDeviceRow(repo, rootMRL)
	if err != nil {
		return
	}
	folder, err := repo.FolderByDeviceAndMRL(deviceID, rootMRL)
	if err != nil || folder == nil {
		return
	}
	if err := repo.DeleteFolderRecursive(folder.ID); err != nil {
		log.Printf("[orchestrator] remove root %s: %v", rootMRL, err)
	}
}

func setRootBanned(repo *discoveryRepo, rootMRL string, banned bool) {
	deviceID, err := resolveDeviceRow(repo, rootMRL)
	if err != nil {
		return
	}
	folder, err := repo.FolderByDeviceAndMRL(deviceID, rootMRL)
	if err != nil || folder == nil {
		return
	}
	if err := repo.SetFolderBanned(folder.ID, banned); err != nil {
		log.Printf("[orchestrator] set banned=%v on %s: %v", banned, rootMRL, err)
	}
}

func reloadDevice(ctx context.Context, crawler *fsdiscoverer.Crawler, repo *discoveryRepo, deviceUUID string, probe fsdiscoverer.InterruptProbe) {
	deviceID, err := repo.DeviceIDByUUID(deviceUUID)
	if err != nil {
		return
	}
	roots, err := repo.RootFoldersForDevice(deviceID)
	if err != nil {
		log.Printf("[orchestrator] list roots for device %s: %v", deviceUUID, err)
		return
	}
	for _, root := range roots {
		if probe != nil && probe.ShouldInterrupt() {
			return
		}
		if err := crawler.CrawlRoot(ctx, root.MRL, root, probe); err != nil {
			log.Printf("[orchestrator] crawl device root %s: %v", root.MRL, err)
		}
	}
}
