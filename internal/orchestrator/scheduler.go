// Scheduler runs the orchestrator's wall-clock-driven background
// passes: the periodic subscription cache sweep (§4.8 cacheSubscriptions)
// and any idle-time re-probes the host application wires in. Grounded
// on the teacher's internal/scheduler ticker-loop shape
// (scheduler.go/edition_worker.go), generalised from a single
// interval-and-callback pair into a cron-expression-driven scheduler
// using the dependency the teacher already carries for this.
package orchestrator

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/mediavault/libcatalog/internal/cacheworker"
)

type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// ScheduleSubscriptionSweep registers the periodic subscription cache
// sweep at the given cron spec (conventionally hourly, "0 * * * *").
func (s *Scheduler) ScheduleSubscriptionSweep(cw *cacheworker.Worker, spec string) error {
	_, err := s.cron.AddFunc(spec, cw.CacheSubscriptions)
	return err
}

// ScheduleFunc registers an arbitrary cron-driven job, e.g. an
// idle-time device re-probe supplied by the host application.
func (s *Scheduler) ScheduleFunc(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("[orchestrator] scheduler started")
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[orchestrator] scheduler stopped")
}
