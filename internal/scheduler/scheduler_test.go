package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"newsdesk/internal/config"
	"newsdesk/internal/database"
	"newsdesk/internal/enrich"
	"newsdesk/internal/fetch"
	"newsdesk/internal/ingest"
	"newsdesk/internal/llm"
	"newsdesk/internal/metrics"
	"newsdesk/internal/summary"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// countingFetcher records ingestion runs per feed and can block to simulate
// slow fetches.
type countingFetcher struct {
	mu      sync.Mutex
	runs    map[string]int
	cur     int
	peak    int
	release chan struct{} // when set, ListCandidates blocks until closed
}

func (f *countingFetcher) ListCandidates(ctx context.Context, feed database.Feed) ([]fetch.Candidate, error) {
	f.mu.Lock()
	f.cur++
	if f.cur > f.peak {
		f.peak = f.cur
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.cur--
		f.mu.Unlock()
	}()

	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]int)
	}
	f.runs[feed.URL]++
	return nil, nil
}

func (f *countingFetcher) ExtractBody(ctx context.Context, articleURL string) (string, error) {
	return "body", nil
}

func (f *countingFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[url]
}

type stubCompleter struct{}

func (stubCompleter) Model() string { return "stub" }

func (stubCompleter) CompleteJSON(ctx context.Context, r llm.Request, out any) error {
	if strings.Contains(r.System, "newsroom reporter") {
		return json.Unmarshal([]byte(`{"headline": "h", "summary": "s", "key_points": ["k"]}`), out)
	}
	return json.Unmarshal([]byte(`{
		"overall_relevance": {"score": 1, "label": "Low", "explanation": "x"},
		"overall_criticality": {"score": 1, "label": "Low", "explanation": "x"},
		"items": [{"key_point": "k", "relevance": {"score": 1, "label": "Low"},
			"criticality": {"score": 1, "label": "Low"}, "explanation": "x", "escalation": "monitor"}]
	}`), out)
}

func setupScheduler(t *testing.T, fetcher *countingFetcher, clock Clock) (*Scheduler, *database.DB) {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := log.New(os.Stderr, "[sched-test] ", log.LstdFlags)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	provider := config.NewProvider(db, logger)
	client := llm.NewClient(logger)

	ingester := ingest.NewService(db, fetcher, logger, m)
	enricher := enrich.NewService(db, stubCompleter{}, fetcher, logger, m)
	summarizer := summary.NewService(db, stubCompleter{}, logger, m)

	return NewScheduler(provider, ingester, enricher, summarizer, client, logger, clock), db
}

func TestReloadSchedulesEnabledFeeds(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{}
	s, db := setupScheduler(t, fetcher, clock)
	ctx := context.Background()

	if _, err := db.AddFeed(ctx, "http://example.com/a.xml", "A", 300*time.Second, true, ""); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if _, err := db.AddFeed(ctx, "http://example.com/b.xml", "B", 300*time.Second, false, ""); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}

	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if s.FeedCount() != 1 {
		t.Errorf("FeedCount = %d; want 1 (disabled feed excluded)", s.FeedCount())
	}

	// New tasks are due on the first tick
	s.tick(ctx, clock.Now())
	s.wg.Wait()
	if fetcher.count("http://example.com/a.xml") != 1 {
		t.Errorf("enabled feed not ingested on first tick")
	}
	if fetcher.count("http://example.com/b.xml") != 0 {
		t.Errorf("disabled feed was ingested")
	}
}

func TestFeedRunsOnItsInterval(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{}
	s, db := setupScheduler(t, fetcher, clock)
	ctx := context.Background()

	if _, err := db.AddFeed(ctx, "http://example.com/a.xml", "A", 300*time.Second, true, ""); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	s.tick(ctx, clock.Now())
	s.wg.Wait()

	// Not due again before the interval elapses
	s.tick(ctx, clock.Advance(100*time.Second))
	s.wg.Wait()
	if got := fetcher.count("http://example.com/a.xml"); got != 1 {
		t.Errorf("runs = %d after 100s; want 1", got)
	}

	s.tick(ctx, clock.Advance(250*time.Second))
	s.wg.Wait()
	if got := fetcher.count("http://example.com/a.xml"); got != 2 {
		t.Errorf("runs = %d after interval; want 2", got)
	}
}

func TestReloadDropsDeletedFeeds(t *testing.T) {
	clock := newFakeClock()
	s, db := setupScheduler(t, &countingFetcher{}, clock)
	ctx := context.Background()

	feedID, err := db.AddFeed(ctx, "http://example.com/a.xml", "A", 300*time.Second, true, "")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if s.FeedCount() != 1 {
		t.Fatalf("FeedCount = %d; want 1", s.FeedCount())
	}

	if err := db.DeleteFeed(ctx, feedID); err != nil {
		t.Fatalf("DeleteFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("second Reload failed: %v", err)
	}
	if s.FeedCount() != 0 {
		t.Errorf("FeedCount = %d after delete; want 0", s.FeedCount())
	}
}

func TestIntervalShrinkReschedules(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{}
	s, db := setupScheduler(t, fetcher, clock)
	ctx := context.Background()

	feedID, err := db.AddFeed(ctx, "http://example.com/a.xml", "A", 3600*time.Second, true, "")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	s.tick(ctx, clock.Now())
	s.wg.Wait()

	// Shrink the interval; the next run must not wait out the old hour
	if err := db.UpdateFeed(ctx, feedID, "A", 60*time.Second, true); err != nil {
		t.Fatalf("UpdateFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	s.tick(ctx, clock.Advance(90*time.Second))
	s.wg.Wait()
	if got := fetcher.count("http://example.com/a.xml"); got != 2 {
		t.Errorf("runs = %d after shrink; want 2", got)
	}
}

func TestSingleFlightPerTask(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{release: make(chan struct{})}
	s, db := setupScheduler(t, fetcher, clock)
	ctx := context.Background()

	if _, err := db.AddFeed(ctx, "http://example.com/a.xml", "A", 60*time.Second, true, ""); err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	// First tick starts a run that blocks; later ticks must not stack runs
	s.tick(ctx, clock.Now())
	s.tick(ctx, clock.Advance(120*time.Second))
	s.tick(ctx, clock.Advance(120*time.Second))

	close(fetcher.release)
	s.wg.Wait()
	if got := fetcher.count("http://example.com/a.xml"); got != 1 {
		t.Errorf("overlapping runs = %d; want 1", got)
	}
}

func TestFetchConcurrencyBounded(t *testing.T) {
	clock := newFakeClock()
	fetcher := &countingFetcher{release: make(chan struct{})}
	s, db := setupScheduler(t, fetcher, clock)
	ctx := context.Background()

	if err := db.UpdateSetting(ctx, "fetch_concurrency", "1", "int"); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}
	for _, url := range []string{"http://example.com/a.xml", "http://example.com/b.xml"} {
		if _, err := db.AddFeed(ctx, url, "", 300*time.Second, true, ""); err != nil {
			t.Fatalf("AddFeed failed: %v", err)
		}
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	// Both feeds are due at once; the semaphore admits them one at a time
	s.tick(ctx, clock.Now())
	close(fetcher.release)
	s.wg.Wait()

	if fetcher.peak != 1 {
		t.Errorf("peak concurrent fetches = %d; want 1", fetcher.peak)
	}
	for _, url := range []string{"http://example.com/a.xml", "http://example.com/b.xml"} {
		if got := fetcher.count(url); got != 1 {
			t.Errorf("runs for %s = %d; want 1", url, got)
		}
	}
}

func TestPanickingTaskIsContained(t *testing.T) {
	clock := newFakeClock()
	s, _ := setupScheduler(t, &countingFetcher{}, clock)
	ctx := context.Background()

	s.mu.Lock()
	s.ensureTask("explosive", time.Minute, clock.Now(), func(ctx context.Context) error {
		panic("boom")
	})
	s.mu.Unlock()

	s.tick(ctx, clock.Now())
	s.wg.Wait()

	// The task is schedulable again after the panic
	s.mu.Lock()
	running := s.tasks["explosive"].running.Load()
	s.mu.Unlock()
	if running {
		t.Errorf("task still marked running after panic")
	}
}

func TestPipelineTasksScheduled(t *testing.T) {
	clock := newFakeClock()
	s, _ := setupScheduler(t, &countingFetcher{}, clock)

	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range []string{taskEnrichment, taskSummary, taskConfigPoll} {
		if _, ok := s.tasks[name]; !ok {
			t.Errorf("task %s not scheduled", name)
		}
	}
}
