package parser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

type fakeService struct {
	name     string
	priority int
	step     models.TaskStep
	result   Status
	runs     int
	mu       sync.Mutex
	flushed  int
}

func (s *fakeService) Name() string                  { return s.name }
func (s *fakeService) Priority() int                  { return s.priority }
func (s *fakeService) TargetedStep() models.TaskStep { return s.step }
func (s *fakeService) Run(ctx context.Context, item *Item) Status {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	return s.result
}
func (s *fakeService) Flush() {
	s.mu.Lock()
	s.flushed++
	s.mu.Unlock()
}

func TestSortByPriorityOrdersHighFirst(t *testing.T) {
	low := &fakeService{name: "low", priority: 1}
	high := &fakeService{name: "high", priority: 10}
	mid := &fakeService{name: "mid", priority: 5}
	services := []Service{low, high, mid}
	sortByPriority(services)

	if services[0].Name() != "high" || services[1].Name() != "mid" || services[2].Name() != "low" {
		names := []string{services[0].Name(), services[1].Name(), services[2].Name()}
		t.Fatalf("expected high,mid,low order, got %v", names)
	}
}

func TestInvokeConvertsPanicToFatal(t *testing.T) {
	p := &Pool{}
	svc := panicService{}
	item := NewItem(&models.Task{ID: uuid.New()})

	status := p.invoke(context.Background(), svc, item)
	if status != Fatal {
		t.Fatalf("expected panic to map to Fatal, got %v", status)
	}
}

type panicService struct{}

func (panicService) Name() string                  { return "panics" }
func (panicService) Priority() int                  { return 0 }
func (panicService) TargetedStep() models.TaskStep { return models.StepLinking }
func (panicService) Run(ctx context.Context, item *Item) Status {
	panic("boom")
}
func (panicService) Flush() {}

func TestWorkerForIsStableAcrossCalls(t *testing.T) {
	p := New(nil, nil, nil, 4)
	a := p.WorkerFor("folder-1")
	b := p.WorkerFor("folder-1")
	if a != b {
		t.Fatalf("expected rendezvous hashing to be stable, got %q then %q", a, b)
	}
}

func TestMarkWaitingFiresIdleCallback(t *testing.T) {
	p := New(nil, nil, nil, 2)
	var transitions []bool
	var mu sync.Mutex
	p.OnIdleChanged(func(idle bool) {
		mu.Lock()
		transitions = append(transitions, idle)
		mu.Unlock()
	})

	p.markWaiting(true)
	p.markWaiting(true) // both workers now waiting -> idle
	p.markWaiting(false) // one picks up work -> not idle

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Fatalf("expected idle then not-idle transitions, got %v", transitions)
	}
}

func TestFlushCallsEveryServicesFlush(t *testing.T) {
	a := &fakeService{name: "a"}
	b := &fakeService{name: "b"}
	p := &Pool{services: []Service{a, b}}
	p.Flush()
	if a.flushed != 1 || b.flushed != 1 {
		t.Fatalf("expected every service flushed once, got a=%d b=%d", a.flushed, b.flushed)
	}
}

func TestPauseBlocksWaitWhilePausedUntilResume(t *testing.T) {
	p := New(nil, nil, nil, 0)
	p.Pause()

	done := make(chan struct{})
	go func() {
		p.waitWhilePaused()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waitWhilePaused returned while still paused")
	case <-time.After(100 * time.Millisecond):
	}

	p.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitWhilePaused did not return after Resume")
	}
}

func TestStopUnblocksAPausedWaiterWithoutDeadlock(t *testing.T) {
	p := New(nil, nil, nil, 0)
	p.Pause()

	done := make(chan struct{})
	go func() {
		p.waitWhilePaused()
		close(done)
	}()

	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not unblock a paused waiter")
	}
}

func TestPoolStartStopDrainsCleanly(t *testing.T) {
	// A pool with no table (nil) would panic on Next; instead verify
	// Stop() returns promptly when Start() was never called, guarding
	// against a WaitGroup misuse that would hang forever.
	p := New(nil, nil, nil, 0)
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return for a pool with zero workers")
	}
}
