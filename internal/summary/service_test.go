package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"newsdesk/internal/database"
	"newsdesk/internal/llm"
	"newsdesk/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeCompleter struct {
	reporterCalls  int
	criticCalls    int
	criticFailures int
	backendDown    bool
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func (f *fakeCompleter) CompleteJSON(ctx context.Context, r llm.Request, out any) error {
	if f.backendDown {
		return llm.ErrBackendUnavailable
	}
	if strings.Contains(r.System, "newsroom reporter") {
		f.reporterCalls++
		answer := `{"headline": "Desk update", "summary": "Two stories moved.",
			"key_points": ["first development", "second development"]}`
		return json.Unmarshal([]byte(answer), out)
	}
	f.criticCalls++
	if f.criticFailures > 0 {
		f.criticFailures--
		return &llm.MalformedOutputError{Output: "garbage", Err: errors.New("no JSON object in output")}
	}
	answer := `{
		"overall_relevance": {"score": 4, "label": "High", "explanation": "on target"},
		"overall_criticality": {"score": 2, "label": "Medium", "explanation": "routine"},
		"items": [
			{"key_point": "first development", "relevance": {"score": 2, "label": "Medium"},
			 "criticality": {"score": 1, "label": "Low"}, "explanation": "background", "escalation": "monitor"},
			{"key_point": "second development", "relevance": {"score": 5, "label": "High"},
			 "criticality": {"score": 4, "label": "High"}, "explanation": "direct impact", "escalation": "escalate"}
		]
	}`
	return json.Unmarshal([]byte(answer), out)
}

func setupService(t *testing.T, client *fakeCompleter) (*Service, *database.DB) {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := log.New(os.Stderr, "[summary-test] ", log.LstdFlags)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewService(db, client, logger, m), db
}

func defaultParams() Params {
	return Params{
		Window:           time.Hour,
		MaxArticles:      15,
		CriticRetryLimit: 3,
		ProfileMinLength: 40,
	}
}

func seedEnrichedArticle(t *testing.T, db *database.DB, feedID int64, key string, publishedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	id, _, err := db.InsertArticle(ctx, database.Article{
		FeedID:      feedID,
		DedupeKey:   key,
		URL:         "http://example.com/" + key,
		Title:       "Article " + key,
		Summary:     "feed summary " + key,
		PublishedAt: publishedAt,
		FetchedAt:   time.Now().UTC(),
		State:       database.StateIngested,
	})
	if err != nil {
		t.Fatalf("InsertArticle failed: %v", err)
	}
	if _, err := db.CompleteEnrichment(ctx, database.Enrichment{
		ArticleID: id, Brief: "brief for " + key, Model: "m",
	}); err != nil {
		t.Fatalf("CompleteEnrichment failed: %v", err)
	}
	return id
}

func seedFeed(t *testing.T, db *database.DB) int64 {
	t.Helper()
	id, err := db.AddFeed(context.Background(), "http://example.com/feed.xml", "Test", 300*time.Second, true, "")
	if err != nil {
		t.Fatalf("AddFeed failed: %v", err)
	}
	return id
}

func TestRunCycleProducesCompletedSummary(t *testing.T) {
	client := &fakeCompleter{}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))
	seedEnrichedArticle(t, db, feedID, "a2", now.Add(-20*time.Minute))

	if err := s.RunCycle(ctx, now, defaultParams()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	summaries, err := db.ListCompletedSummaries(ctx, 10)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("summaries = %d, %v; want 1", len(summaries), err)
	}
	sum := summaries[0]
	if sum.Headline != "Desk update" || sum.RelevanceScore != 4 || sum.Ungraded {
		t.Errorf("summary = %+v", sum)
	}

	_, points, articleIDs, err := db.GetCompletedSummary(ctx, sum.ID)
	if err != nil {
		t.Fatalf("GetCompletedSummary failed: %v", err)
	}
	if len(articleIDs) != 2 {
		t.Errorf("attached articles = %d; want 2", len(articleIDs))
	}
	// Key points come back highest importance first
	if len(points) != 2 || points[0].Text != "second development" || points[0].Action != "escalate" {
		t.Errorf("points = %+v", points)
	}
}

func TestRunCycleEmptyWindow(t *testing.T) {
	client := &fakeCompleter{}
	s, db := setupService(t, client)

	if err := s.RunCycle(context.Background(), time.Now().UTC(), defaultParams()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if client.reporterCalls != 0 {
		t.Errorf("reporter called on empty window")
	}
	if summaries, _ := db.ListCompletedSummaries(context.Background(), 10); len(summaries) != 0 {
		t.Errorf("empty window produced a summary")
	}
}

func TestRunCycleCriticFailureResumesNextCycle(t *testing.T) {
	client := &fakeCompleter{criticFailures: 1}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))

	if err := s.RunCycle(ctx, now, defaultParams()); err != nil {
		t.Fatalf("first RunCycle failed: %v", err)
	}

	// Reporter output persisted but invisible to readers
	if summaries, _ := db.ListCompletedSummaries(ctx, 10); len(summaries) != 0 {
		t.Fatalf("pending summary leaked to readers")
	}
	pending, _ := db.ListPendingSummaries(ctx)
	if len(pending) != 1 || pending[0].CriticAttempts != 1 {
		t.Fatalf("pending = %+v; want one with 1 attempt", pending)
	}

	// Next cycle resumes the critic pass without re-running the reporter
	if err := s.RunCycle(ctx, now.Add(time.Hour), defaultParams()); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	summaries, _ := db.ListCompletedSummaries(ctx, 10)
	if len(summaries) != 1 || summaries[0].Ungraded {
		t.Fatalf("summaries = %+v; want one graded", summaries)
	}
	if client.reporterCalls != 1 {
		t.Errorf("reporterCalls = %d; reporter must not rerun for a pending summary", client.reporterCalls)
	}
}

func TestRunCycleCriticExhaustionPublishesUngraded(t *testing.T) {
	client := &fakeCompleter{criticFailures: 100}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))

	p := defaultParams()
	if err := s.RunCycle(ctx, now, p); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	// Two more cycles burn the remaining critic attempts
	s.RunCycle(ctx, now.Add(time.Hour), p)
	s.RunCycle(ctx, now.Add(2*time.Hour), p)

	summaries, _ := db.ListCompletedSummaries(ctx, 10)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d; want 1 ungraded", len(summaries))
	}
	sum := summaries[0]
	if !sum.Ungraded || sum.RelevanceScore != 0 || sum.RelevanceLabel != "Low" {
		t.Errorf("summary = %+v; want neutral ungraded rating", sum)
	}
	// Key points survive even without grades
	points, _ := db.SummaryKeyPoints(ctx, sum.ID)
	if len(points) != 2 {
		t.Errorf("points = %d; want 2", len(points))
	}
}

func TestRunCycleBackendOutageLeavesPendingUncharged(t *testing.T) {
	client := &fakeCompleter{criticFailures: 1}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))

	if err := s.RunCycle(ctx, now, defaultParams()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	pending, _ := db.ListPendingSummaries(ctx)
	if len(pending) != 1 {
		t.Fatalf("want one pending summary, got %d", len(pending))
	}

	// Outage during resume: no attempt charged
	client.backendDown = true
	s.RunCycle(ctx, now.Add(time.Hour), defaultParams())
	pending, _ = db.ListPendingSummaries(ctx)
	if len(pending) != 1 || pending[0].CriticAttempts != 1 {
		t.Errorf("pending = %+v; outage must not charge attempts", pending)
	}
}

func TestWindowContinuity(t *testing.T) {
	client := &fakeCompleter{}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))

	if err := s.RunCycle(ctx, now, defaultParams()); err != nil {
		t.Fatalf("first RunCycle failed: %v", err)
	}

	// A second cycle over the next hour: the old article is attached and
	// out of range, so the cycle is empty.
	if err := s.RunCycle(ctx, now.Add(time.Hour), defaultParams()); err != nil {
		t.Fatalf("second RunCycle failed: %v", err)
	}
	summaries, _ := db.ListCompletedSummaries(ctx, 10)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d; want 1", len(summaries))
	}
	if client.reporterCalls != 1 {
		t.Errorf("reporterCalls = %d; want 1", client.reporterCalls)
	}

	// A new article inside the second window gets summarized there
	seedEnrichedArticle(t, db, feedID, "a2", now.Add(30*time.Minute))
	if err := s.RunCycle(ctx, now.Add(time.Hour), defaultParams()); err != nil {
		t.Fatalf("third RunCycle failed: %v", err)
	}
	summaries, _ = db.ListCompletedSummaries(ctx, 10)
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d; want 2", len(summaries))
	}
	if summaries[0].WindowStart != summaries[1].WindowEnd {
		t.Errorf("windows not contiguous: %v then %v", summaries[1].WindowEnd, summaries[0].WindowStart)
	}
}

func TestGradingProfileFallsBackToDefault(t *testing.T) {
	client := &fakeCompleter{}
	s, db := setupService(t, client)
	ctx := context.Background()
	feedID := seedFeed(t, db)

	// Profile shorter than the minimum length
	if _, err := db.SaveProfile(ctx, "Thin", "too short"); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seedEnrichedArticle(t, db, feedID, "a1", now.Add(-30*time.Minute))

	if err := s.RunCycle(ctx, now, defaultParams()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	summaries, _ := db.ListCompletedSummaries(ctx, 10)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d; want 1", len(summaries))
	}
	if summaries[0].ProfileSnapshot != DefaultProfile {
		t.Errorf("profile snapshot = %q; want default profile", summaries[0].ProfileSnapshot)
	}
}

func TestGradingProfileStoreErrorPropagates(t *testing.T) {
	client := &fakeCompleter{}
	s, db := setupService(t, client)
	ctx := context.Background()

	// No profile configured: the default applies without error
	profile, err := s.gradingProfile(ctx, 40)
	if err != nil || profile != DefaultProfile {
		t.Fatalf("gradingProfile(empty store) = %q, %v; want default, nil", profile, err)
	}

	// A failing store read must surface, not silently grade against the
	// default.
	db.Close()
	if _, err := s.gradingProfile(ctx, 40); err == nil {
		t.Errorf("gradingProfile on closed store returned no error")
	}
}

func TestValidateCriticRejectsLengthMismatch(t *testing.T) {
	var r llm.CriticResult
	answer := fmt.Sprintf(`{
		"overall_relevance": {"score": 9, "label": "Extreme", "explanation": "x"},
		"overall_criticality": {"score": -2, "label": "Low", "explanation": "x"},
		"items": [%s]
	}`, `{"key_point": "a", "relevance": {"score": 3, "label": "Medium"},
		"criticality": {"score": 3, "label": "Medium"}, "explanation": "x", "escalation": "inform"}`)
	if err := json.Unmarshal([]byte(answer), &r); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}

	if err := validateCritic(&r, 2); err == nil {
		t.Errorf("length mismatch accepted")
	}
	if err := validateCritic(&r, 1); err != nil {
		t.Fatalf("validateCritic failed: %v", err)
	}
	// Out-of-range scores and unknown labels are clamped
	if r.OverallRelevance.Score != 5 || r.OverallRelevance.Label != "Low" {
		t.Errorf("overall relevance not clamped: %+v", r.OverallRelevance)
	}
	if r.OverallCriticality.Score != 0 {
		t.Errorf("negative score not clamped: %+v", r.OverallCriticality)
	}
}
