package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DomainSchedule configures the two recurring jobs for one search domain:
// a frequent unprocessed batch and a daily staleness sweep.
type DomainSchedule struct {
	Domain        string
	BatchInterval time.Duration
	BatchSize     int
	RefreshAge    time.Duration
	RefreshBatch  int
}

// Scheduler owns the cron runner and translates schedules into jobs.
type Scheduler struct {
	cron      *cron.Cron
	processor *Processor
	schedules []DomainSchedule
}

func New(processor *Processor, schedules []DomainSchedule) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		processor: processor,
		schedules: schedules,
	}
}

// Start registers all domain jobs and launches the cron runner. Jobs use the
// supplied context so shutdown cancels in-flight batches.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, sched := range s.schedules {
		sched := sched

		batchSpec := fmt.Sprintf("@every %s", sched.BatchInterval)
		if _, err := s.cron.AddFunc(batchSpec, func() {
			if _, err := s.processor.RunBatch(ctx, sched.Domain, sched.BatchSize); err != nil {
				log.Printf("[scheduler:%s] batch: %v", sched.Domain, err)
			}
		}); err != nil {
			return fmt.Errorf("register batch job for %s: %w", sched.Domain, err)
		}

		if _, err := s.cron.AddFunc("@every 24h", func() {
			if _, err := s.processor.RefreshStale(ctx, sched.Domain, sched.RefreshAge, sched.RefreshBatch); err != nil {
				log.Printf("[scheduler:%s] refresh: %v", sched.Domain, err)
			}
		}); err != nil {
			return fmt.Errorf("register refresh job for %s: %w", sched.Domain, err)
		}

		log.Printf("[scheduler:%s] registered: batch every %s (size %d), refresh after %s",
			sched.Domain, sched.BatchInterval, sched.BatchSize, sched.RefreshAge)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
