// Package parser implements the Parser (P) of §4.6: a pool of workers
// draining the Task Table through an ordered chain of services, each
// targeting one TaskStep bit. Grounded on the handler-dispatch shape of
// the teacher's internal/jobs/tasks.go (ProcessTask per payload type),
// generalised from asynq's single-handler-per-type model into an
// ordered multi-service pipeline over one task.
package parser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/store"
	"github.com/mediavault/libcatalog/internal/tasktable"
)

// Status is the outcome a Service reports for one task (§4.6 step 3).
type Status int

const (
	Success Status = iota
	Completed
	Discarded
	Requeue
	Fatal
)

// Item is the in-memory unit a chain of services operates on: the task
// row plus whatever upstream services have attached to it so far
// (metadata extraction output, track lists, …). It is intentionally a
// loose bag — later services read what earlier ones wrote.
type Item struct {
	Task *models.Task

	// Extra carries service-specific payloads (extracted metadata,
	// track descriptors, embedded thumbnails, …) keyed by producer.
	Extra map[string]interface{}
}

func NewItem(task *models.Task) *Item {
	return &Item{Task: task, Extra: make(map[string]interface{})}
}

// Service is one stage of the pipeline, targeting a single TaskStep bit.
// Priority governs ordering: higher runs first.
type Service interface {
	Name() string
	Priority() int
	TargetedStep() models.TaskStep
	Run(ctx context.Context, item *Item) Status
	// Flush drops any per-service in-memory cache (§4.7's single-entry
	// album cache, for instance). Services without a cache can no-op.
	Flush()
}

// Pool is the worker pool draining a Table through an ordered Services
// chain. Every worker takes the next task from the shared table; the
// rendezvous ring is used only by WorkerFor, which names a worker for
// an affinity key, so tasks are not routed to workers by folder.
type Pool struct {
	st       *store.Store
	table    *tasktable.Table
	services []Service

	workerCount int
	ring        *rendezvous.Table

	mu      sync.Mutex
	waiting int // workers currently blocked on an empty table
	idle    bool
	onIdle  func(bool)

	stop chan struct{}
	wg   sync.WaitGroup

	pollInterval time.Duration

	pauseMu sync.Mutex
	pauseCond *sync.Cond
	paused  bool
}

func New(st *store.Store, table *tasktable.Table, services []Service, workerCount int) *Pool {
	sortByPriority(services)
	names := make([]string, workerCount)
	for i := range names {
		names[i] = fmt.Sprintf("worker-%d", i)
	}
	p := &Pool{
		st:           st,
		table:        table,
		services:     services,
		workerCount:  workerCount,
		ring:         rendezvous.New(names, xxhash.Sum64String),
		stop:         make(chan struct{}),
		pollInterval: 250 * time.Millisecond,
	}
	p.pauseCond = sync.NewCond(&p.pauseMu)
	return p
}

// Pause blocks every worker before it pulls its next task, once the
// task currently in flight (if any) completes (§4.10 pause/resume).
func (p *Pool) Pause() {
	p.pauseMu.Lock()
	p.paused = true
	p.pauseMu.Unlock()
}

// Resume releases paused workers.
func (p *Pool) Resume() {
	p.pauseMu.Lock()
	p.paused = false
	p.pauseCond.Broadcast()
	p.pauseMu.Unlock()
}

func (p *Pool) waitWhilePaused() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	for p.paused {
		p.pauseCond.Wait()
	}
}

func sortByPriority(services []Service) {
	for i := 1; i < len(services); i++ {
		for j := i; j > 0 && services[j].Priority() > services[j-1].Priority(); j-- {
			services[j], services[j-1] = services[j-1], services[j]
		}
	}
}

// OnIdleChanged registers the callback fired when every worker
// transitions between waiting-on-empty-queue and busy (§4.6 idle
// reporting).
func (p *Pool) OnIdleChanged(fn func(idle bool)) { p.onIdle = fn }

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

func (p *Pool) Stop() {
	close(p.stop)
	p.pauseMu.Lock()
	p.paused = false
	p.pauseCond.Broadcast()
	p.pauseMu.Unlock()
	p.wg.Wait()
}

func (p *Pool) workerLoop(idx int) {
	defer p.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.waitWhilePaused()

		task, err := p.table.Next(ctx)
		if err != nil {
			log.Printf("[parser] worker %d: Next: %v", idx, err)
			time.Sleep(p.pollInterval)
			continue
		}
		if task == nil {
			p.markWaiting(true)
			select {
			case <-p.stop:
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		p.markWaiting(false)
		p.runTask(ctx, task)
	}
}

func (p *Pool) markWaiting(waiting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if waiting {
		p.waiting++
	} else if p.waiting > 0 {
		p.waiting--
	}
	nowIdle := p.waiting >= p.workerCount
	if nowIdle != p.idle {
		p.idle = nowIdle
		if p.onIdle != nil {
			p.onIdle(nowIdle)
		}
	}
}

// runTask implements the per-task worker loop of §4.6: acquire a
// priority-read context, walk services in order, update the step
// bitmap per step, and act on the returned status.
func (p *Pool) runTask(ctx context.Context, task *models.Task) {
	item := NewItem(task)

	err := p.st.WithPriorityRead(ctx, func(tx *store.Tx) error {
		return nil // acquiring the scope is the point; services run their own write txs.
	})
	if err != nil {
		log.Printf("[parser] priority-read acquire failed for task %s: %v", task.ID, err)
	}

	for _, svc := range p.services {
		if task.Step&svc.TargetedStep() != 0 {
			continue // already run for this task
		}

		status := p.invoke(ctx, svc, item)

		switch status {
		case Success:
			task.Step |= svc.TargetedStep()
			if err := p.table.UpdateStep(ctx, task.ID, task.Step, false); err != nil {
				log.Printf("[parser] UpdateStep task %s: %v", task.ID, err)
				return
			}
		case Completed:
			task.Step |= svc.TargetedStep()
			if err := p.table.UpdateStep(ctx, task.ID, task.Step, true); err != nil {
				log.Printf("[parser] UpdateStep(completed) task %s: %v", task.ID, err)
			}
			return
		case Discarded:
			if err := p.table.Discard(ctx, task.ID); err != nil {
				log.Printf("[parser] Discard task %s: %v", task.ID, err)
			}
			return
		case Requeue:
			if err := p.table.Requeue(ctx, task.ID); err != nil {
				log.Printf("[parser] Requeue task %s: %v", task.ID, err)
			}
			return
		case Fatal:
			discard, err := p.table.BumpRetry(ctx, task.ID)
			if err != nil {
				log.Printf("[parser] BumpRetry task %s: %v", task.ID, err)
			}
			if discard {
				log.Printf("[parser] task %s discarded after exceeding retry threshold", task.ID)
			}
			return
		}
	}
}

// invoke calls svc.Run, converting a panic into Fatal (§4.6 step 4: "on
// exception, map to Fatal and log").
func (p *Pool) invoke(ctx context.Context, svc Service, item *Item) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[parser] service %s panicked on task %s: %v", svc.Name(), item.Task.ID, r)
			status = Fatal
		}
	}()
	return svc.Run(ctx, item)
}

// Flush calls every service's Flush, dropping its in-memory cache. It
// does not stop workers or wait for a task in flight; the orchestrator's
// ForceRescan is its caller.
func (p *Pool) Flush() {
	for _, svc := range p.services {
		svc.Flush()
	}
}

// WorkerFor returns which worker name a given affinity key (e.g. a
// parent folder id) rendezvous-hashes to, letting callers reason about
// routing in tests without running the pool.
func (p *Pool) WorkerFor(key string) string {
	return p.ring.Get(key)
}
