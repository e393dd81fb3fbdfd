// internal/summary/service.go
package summary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"newsdesk/internal/database"
	"newsdesk/internal/llm"
	"newsdesk/internal/metrics"
)

// DefaultProfile stands in when no audience profile is configured or the
// configured one is too short to grade against.
const DefaultProfile = "A general news audience interested in significant developments " +
	"across politics, business, technology, culture and science."

// Completer is the slice of the model client summarization needs
type Completer interface {
	CompleteJSON(ctx context.Context, r llm.Request, out any) error
	Model() string
}

// Params are the tunables for one summarization cycle, taken from the
// current config snapshot.
type Params struct {
	Window           time.Duration
	MaxArticles      int
	CriticRetryLimit int
	ProfileMinLength int
}

// Service produces the periodic desk summary: a reporter pass writes the
// digest and key points, a critic pass grades them against the audience
// profile. The two passes are separated by a persisted pending state so a
// crashed critic never loses reporter output.
type Service struct {
	db      *database.DB
	client  Completer
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewService(db *database.DB, client Completer, logger *log.Logger, m *metrics.Metrics) *Service {
	return &Service{db: db, client: client, logger: logger, metrics: m}
}

// RunCycle executes one summarization cycle ending at now. Summaries left
// pending by earlier cycles get their critic pass retried first, so restarts
// resume where they stopped.
func (s *Service) RunCycle(ctx context.Context, now time.Time, p Params) error {
	if err := s.resumePending(ctx, now, p); err != nil {
		return err
	}

	start, err := s.windowStart(ctx, now, p.Window)
	if err != nil {
		return err
	}
	end := now.UTC()
	if !end.After(start) {
		return nil
	}

	articles, err := s.db.SelectSummarizable(ctx, start, end, p.MaxArticles)
	if err != nil {
		return fmt.Errorf("selecting summarizable articles: %w", err)
	}
	if len(articles) == 0 {
		s.metrics.RecordSummaryCycle(metrics.CycleEmpty)
		return nil
	}

	digest, err := s.buildDigest(ctx, articles)
	if err != nil {
		return err
	}

	var reporter llm.ReporterResult
	window := fmt.Sprintf("%s to %s UTC", start.Format("2006-01-02 15:04"), end.Format("2006-01-02 15:04"))
	if err := s.client.CompleteJSON(ctx, llm.ReporterPrompt(window, digest), &reporter); err != nil {
		s.metrics.RecordSummaryCycle(metrics.CycleFailed)
		return fmt.Errorf("reporter pass: %w", err)
	}
	if reporter.Headline == "" || len(reporter.KeyPoints) == 0 {
		s.metrics.RecordSummaryCycle(metrics.CycleFailed)
		return fmt.Errorf("reporter pass: %w", &llm.MalformedOutputError{Err: errors.New("missing headline or key points")})
	}

	points := make([]database.KeyPoint, len(reporter.KeyPoints))
	for i, text := range reporter.KeyPoints {
		points[i] = database.KeyPoint{Text: text}
	}
	// Article ranking follows recency: SelectSummarizable returns newest
	// first and that order is what readers see.
	articleIDs := make([]int64, len(articles))
	for i, a := range articles {
		articleIDs[i] = a.ID
	}

	summaryID, err := s.db.CreatePendingSummary(ctx, database.Summary{
		WindowStart: start,
		WindowEnd:   end,
		Headline:    reporter.Headline,
		Body:        reporter.Summary,
		Model:       s.client.Model(),
	}, points, articleIDs)
	if err != nil {
		s.metrics.RecordSummaryCycle(metrics.CycleFailed)
		return fmt.Errorf("storing pending summary: %w", err)
	}

	if err := s.runCritic(ctx, summaryID, reporter.Headline, reporter.Summary, reporter.KeyPoints, now, p); err != nil {
		// The summary stays pending; the next cycle resumes it
		s.metrics.RecordSummaryCycle(metrics.CyclePending)
		s.logger.Printf("Critic pass deferred for summary %d: %v", summaryID, err)
		return nil
	}
	s.metrics.RecordSummaryCycle(metrics.CycleProduced)
	return nil
}

// windowStart continues from the previous summary's window end, clamped so
// a long gap never pulls in more than one window of history.
func (s *Service) windowStart(ctx context.Context, now time.Time, window time.Duration) (time.Time, error) {
	latest, err := s.db.LatestSummaryWindowEnd(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last window end: %w", err)
	}
	floor := now.UTC().Add(-window)
	if latest.IsZero() || latest.Before(floor) {
		return floor, nil
	}
	return latest.UTC(), nil
}

// resumePending retries the critic pass for summaries stranded in pending
func (s *Service) resumePending(ctx context.Context, now time.Time, p Params) error {
	pending, err := s.db.ListPendingSummaries(ctx)
	if err != nil {
		return fmt.Errorf("listing pending summaries: %w", err)
	}
	for _, sum := range pending {
		keyPoints, err := s.db.SummaryKeyPoints(ctx, sum.ID)
		if err != nil {
			return err
		}
		texts := make([]string, len(keyPoints))
		for i, kp := range keyPoints {
			texts[i] = kp.Text
		}
		if err := s.runCritic(ctx, sum.ID, sum.Headline, sum.Body, texts, now, p); err != nil {
			s.logger.Printf("Critic pass still failing for summary %d: %v", sum.ID, err)
		}
	}
	return nil
}

// runCritic grades one pending summary. Backend outages leave the summary
// pending without charging the retry budget; any other failure is charged,
// and once the budget is spent the summary publishes ungraded.
func (s *Service) runCritic(ctx context.Context, summaryID int64, headline, body string, keyPoints []string, now time.Time, p Params) error {
	profile, err := s.gradingProfile(ctx, p.ProfileMinLength)
	if err != nil {
		return err
	}

	var result llm.CriticResult
	err = s.client.CompleteJSON(ctx, llm.CriticPrompt(profile, headline, body, keyPoints), &result)
	if err == nil {
		err = validateCritic(&result, len(keyPoints))
	}
	if err != nil {
		if errors.Is(err, llm.ErrBackendUnavailable) {
			return err
		}
		attempts, incErr := s.db.IncrementCriticAttempts(ctx, summaryID)
		if incErr != nil {
			return incErr
		}
		if attempts >= p.CriticRetryLimit {
			s.logger.Printf("Summary %d exhausted critic retries, publishing ungraded", summaryID)
			return s.db.CompleteSummaryUngraded(ctx, summaryID, profile, now)
		}
		return err
	}

	rated := make([]database.KeyPoint, len(result.Items))
	for i, item := range result.Items {
		rated[i] = database.KeyPoint{
			Position:        i,
			ImportanceScore: item.Relevance.Score,
			ImportanceLabel: item.Relevance.Label,
			Action:          strings.ToLower(strings.TrimSpace(item.Escalation)),
			Rationale:       item.Explanation,
		}
	}
	return s.db.CompleteSummary(ctx, summaryID, profile, database.SummaryRating{
		RelevanceScore:    result.OverallRelevance.Score,
		RelevanceLabel:    result.OverallRelevance.Label,
		CriticalityScore:  result.OverallCriticality.Score,
		CriticalityLabel:  result.OverallCriticality.Label,
		RatingExplanation: result.OverallRelevance.Explanation,
	}, rated, now)
}

// gradingProfile returns the active audience profile, or the default when
// none is configured or the configured one is too thin to grade against.
// A store read error propagates so the critic pass retries next cycle
// instead of permanently snapshotting the wrong profile.
func (s *Service) gradingProfile(ctx context.Context, minLength int) (string, error) {
	profile, err := s.db.ActiveProfile(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return DefaultProfile, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading grading profile: %w", err)
	}
	if len(strings.TrimSpace(profile.Content)) < minLength {
		s.logger.Printf("Active profile shorter than %d chars, grading against default", minLength)
		return DefaultProfile, nil
	}
	return profile.Content, nil
}

func validateCritic(r *llm.CriticResult, wantItems int) error {
	if len(r.Items) != wantItems {
		return &llm.MalformedOutputError{Err: fmt.Errorf("critic rated %d items, want %d", len(r.Items), wantItems)}
	}
	for i := range r.Items {
		clampRating(&r.Items[i].Relevance)
		clampRating(&r.Items[i].Criticality)
	}
	clampRating(&r.OverallRelevance.Rating)
	clampRating(&r.OverallCriticality.Rating)
	return nil
}

// clampRating forces scores into 0-5 and labels into the known set
func clampRating(r *llm.Rating) {
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 5 {
		r.Score = 5
	}
	switch r.Label {
	case "High", "Medium", "Low":
	default:
		r.Label = "Low"
	}
}

// buildDigest flattens the article set into the reporter's source material,
// preferring the enrichment brief over the raw feed summary.
func (s *Service) buildDigest(ctx context.Context, articles []database.Article) (string, error) {
	var b strings.Builder
	for i, a := range articles {
		capsule := a.Summary
		if rec, err := s.db.LatestEnrichment(ctx, a.ID); err == nil && rec.Brief != "" {
			capsule = rec.Brief
		} else if err != nil && !errors.Is(err, database.ErrNotFound) {
			return "", fmt.Errorf("loading enrichment for article %d: %w", a.ID, err)
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, a.Title, a.PublishedAt.Format("2006-01-02 15:04"), capsule)
	}
	return b.String(), nil
}
