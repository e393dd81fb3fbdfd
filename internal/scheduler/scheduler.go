// internal/scheduler/scheduler.go
// Single-process task scheduler driving the whole pipeline: per-feed
// ingestion, the enrichment pass, the summarization cycle and the config
// poll all run off one coarse tick.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"newsdesk/internal/config"
	"newsdesk/internal/enrich"
	"newsdesk/internal/ingest"
	"newsdesk/internal/llm"
	"newsdesk/internal/summary"
)

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Task names for the fixed pipeline tasks. Feed tasks use feedTaskName.
const (
	taskEnrichment = "enrichment"
	taskSummary    = "summary"
	taskConfigPoll = "config-poll"
)

func feedTaskName(id int64) string { return fmt.Sprintf("feed:%d", id) }

// task is one scheduled unit of work. running guards against overlap: a
// slow run simply makes the task late, never concurrent with itself.
type task struct {
	name     string
	interval time.Duration
	nextDue  time.Time
	running  atomic.Bool
	run      func(ctx context.Context) error
}

// Scheduler owns the task table and the current config snapshot. Snapshots
// are swapped atomically on config reload; a running task keeps the
// snapshot it started with.
type Scheduler struct {
	provider  *config.Provider
	ingester  *ingest.Service
	enricher  *enrich.Service
	summarize *summary.Service
	llmClient *llm.Client
	logger    *log.Logger
	clock     Clock

	snap atomic.Pointer[config.Snapshot]

	mu         sync.Mutex
	tasks      map[string]*task
	fetchSem   chan struct{}
	fetchSlots int

	wg sync.WaitGroup
}

func NewScheduler(provider *config.Provider, ingester *ingest.Service, enricher *enrich.Service,
	summarize *summary.Service, llmClient *llm.Client, logger *log.Logger, clock Clock) *Scheduler {
	if clock == nil {
		clock = systemClock{}
	}
	return &Scheduler{
		provider:  provider,
		ingester:  ingester,
		enricher:  enricher,
		summarize: summarize,
		llmClient: llmClient,
		logger:    logger,
		clock:     clock,
		tasks:     make(map[string]*task),
	}
}

func (s *Scheduler) snapshot() *config.Snapshot {
	return s.snap.Load()
}

// Reload pulls a fresh snapshot from the database and reconciles the task
// table against it.
func (s *Scheduler) Reload(ctx context.Context) error {
	snap, err := s.provider.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config snapshot: %w", err)
	}
	s.apply(snap)
	return nil
}

// apply swaps the snapshot and reconciles tasks: new feeds run on the next
// tick, removed or disabled feeds are dropped, interval changes reschedule.
func (s *Scheduler) apply(snap *config.Snapshot) {
	s.snap.Store(snap)
	s.llmClient.SetTarget(snap.LLMBaseURL, snap.LLMModel, snap.LLMAPIKey)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if slots := snap.FetchConcurrency; slots > 0 && slots != s.fetchSlots {
		s.fetchSem = make(chan struct{}, slots)
		s.fetchSlots = slots
	}

	s.ensureTask(taskConfigPoll, snap.ConfigPoll, now, func(ctx context.Context) error {
		return s.Reload(ctx)
	})
	s.ensureTask(taskEnrichment, snap.EnrichmentInterval, now, func(ctx context.Context) error {
		cur := s.snapshot()
		return s.enricher.RunBatch(ctx, cur.EnrichmentBatchSize, cur.EnrichmentRetryLimit)
	})
	s.ensureTask(taskSummary, snap.SummaryInterval, now, func(ctx context.Context) error {
		cur := s.snapshot()
		return s.summarize.RunCycle(ctx, s.clock.Now(), summary.Params{
			Window:           cur.SummaryWindow,
			MaxArticles:      cur.SummaryMaxArticles,
			CriticRetryLimit: cur.CriticRetryLimit,
			ProfileMinLength: cur.ProfileMinLength,
		})
	})

	wanted := make(map[string]bool, len(snap.Feeds))
	for _, feed := range snap.Feeds {
		if !feed.Enabled {
			continue
		}
		feedID := feed.ID
		name := feedTaskName(feedID)
		wanted[name] = true
		s.ensureTask(name, feed.Interval, now, func(ctx context.Context) error {
			// Bounded fan-out: at most FetchConcurrency feeds fetch at once.
			s.mu.Lock()
			sem := s.fetchSem
			s.mu.Unlock()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			cur := s.snapshot()
			for _, f := range cur.Feeds {
				if f.ID == feedID && f.Enabled {
					return s.ingester.Run(ctx, f)
				}
			}
			return nil // feed vanished between scheduling and run
		})
	}
	for name, t := range s.tasks {
		if t.isFeedTask() && !wanted[name] {
			delete(s.tasks, name)
			s.logger.Printf("Unscheduled %s", name)
		}
	}
}

func (t *task) isFeedTask() bool {
	return len(t.name) > 5 && t.name[:5] == "feed:"
}

// ensureTask adds a task due immediately, or reschedules an existing one
// when its interval changed. Callers hold s.mu.
func (s *Scheduler) ensureTask(name string, interval time.Duration, now time.Time, run func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	if existing, ok := s.tasks[name]; ok {
		if existing.interval != interval {
			existing.interval = interval
			if soonest := now.Add(interval); existing.nextDue.After(soonest) {
				existing.nextDue = soonest
			}
			s.logger.Printf("Rescheduled %s every %s", name, interval)
		}
		existing.run = run
		return
	}
	s.tasks[name] = &task{name: name, interval: interval, nextDue: now, run: run}
	s.logger.Printf("Scheduled %s every %s", name, interval)
}

// tick launches every due task that is not already running
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	type launch struct {
		t   *task
		run func(ctx context.Context) error
	}
	s.mu.Lock()
	var due []launch
	for _, t := range s.tasks {
		if !now.Before(t.nextDue) && t.running.CompareAndSwap(false, true) {
			t.nextDue = now.Add(t.interval)
			due = append(due, launch{t: t, run: t.run})
		}
	}
	s.mu.Unlock()

	for _, l := range due {
		s.wg.Add(1)
		go func(l launch) {
			defer s.wg.Done()
			defer l.t.running.Store(false)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Printf("Task %s panicked: %v", l.t.name, r)
				}
			}()
			if err := l.run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Printf("Task %s failed: %v", l.t.name, err)
			}
		}(l)
	}
}

// Run drives the tick loop until ctx is cancelled, then waits for in-flight
// tasks to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	tick := s.snapshot().Tick
	if tick <= 0 {
		tick = 5 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.logger.Printf("Scheduler running, tick every %s", tick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("Scheduler stopping, waiting for running tasks")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.clock.Now())
			if next := s.snapshot().Tick; next > 0 && next != tick {
				tick = next
				ticker.Reset(tick)
				s.logger.Printf("Tick interval changed to %s", tick)
			}
		}
	}
}

// FeedCount reports how many feed tasks are currently scheduled
func (s *Scheduler) FeedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.isFeedTask() {
			n++
		}
	}
	return n
}
