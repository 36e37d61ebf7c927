// Package sched enqueues pipeline runs on a timer and sweeps stale
// executions. It never executes pipelines itself; workers do.
package sched

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/recipeworks/recipeforge/internal/pipeline"
)

// RunPublisher enqueues one pipeline run request.
type RunPublisher interface {
	PublishRun(ctx context.Context, workItemID, trigger string) error
}

type Scheduler struct {
	cron *cron.Cron
	repo *pipeline.Repo
	pub  RunPublisher

	staleThreshold time.Duration
}

func New(repo *pipeline.Repo, pub RunPublisher, staleThreshold time.Duration) *Scheduler {
	return &Scheduler{
		cron:           cron.New(),
		repo:           repo,
		pub:            pub,
		staleThreshold: staleThreshold,
	}
}

// Start registers the enqueue job under spec and, when a stale threshold
// is configured, a sweep every minute. It returns after the cron has
// started.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return err
	}
	if s.staleThreshold > 0 {
		if _, err := s.cron.AddFunc("@every 1m", func() { s.sweep(ctx) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Printf("sched: started spec=%q stale_threshold=%s", spec, s.staleThreshold)
	return nil
}

// Stop halts the cron and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("sched: stopped")
}

// tick picks the oldest pending work item (one with no run in flight) and
// enqueues it. One item per tick keeps scheduled load predictable.
func (s *Scheduler) tick(ctx context.Context) {
	item, err := s.repo.NextPending(ctx)
	if err != nil {
		log.Printf("sched: next pending: %v", err)
		return
	}
	if item == nil {
		return
	}
	if err := s.pub.PublishRun(ctx, item.ID, string(pipeline.TriggerSchedule)); err != nil {
		log.Printf("sched: enqueue item=%s err=%v", item.ID, err)
		return
	}
	log.Printf("sched: enqueued item=%s", item.ID)
}

func (s *Scheduler) sweep(ctx context.Context) {
	swept, err := s.repo.SweepStale(ctx, s.staleThreshold)
	if err != nil {
		log.Printf("sched: sweep stale: %v", err)
		return
	}
	if len(swept) > 0 {
		log.Printf("sched: swept %d stale executions", len(swept))
	}
}
