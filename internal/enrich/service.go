// internal/enrich/service.go
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"newsdesk/internal/database"
	"newsdesk/internal/llm"
	"newsdesk/internal/metrics"
)

// Completer is the slice of the model client enrichment needs
type Completer interface {
	CompleteJSON(ctx context.Context, r llm.Request, out any) error
	Model() string
}

// BodyExtractor backfills article bodies that ingestion could not fetch
type BodyExtractor interface {
	ExtractBody(ctx context.Context, articleURL string) (string, error)
}

// Service runs the enrichment pass: four model calls per article producing
// topic, category, location and a brief. Articles fail independently; one
// poison article never stalls the batch.
type Service struct {
	db        *database.DB
	client    Completer
	extractor BodyExtractor
	logger    *log.Logger
	metrics   *metrics.Metrics
}

func NewService(db *database.DB, client Completer, extractor BodyExtractor, logger *log.Logger, m *metrics.Metrics) *Service {
	return &Service{db: db, client: client, extractor: extractor, logger: logger, metrics: m}
}

// RunBatch enriches up to batchSize pending articles. A backend outage
// aborts the whole batch without charging any article's retry budget;
// per-article errors (timeouts, malformed output) are charged and move the
// article to the terminal failed state once retryLimit attempts are spent.
func (s *Service) RunBatch(ctx context.Context, batchSize, retryLimit int) error {
	start := time.Now()
	batch, err := s.db.SelectEnrichmentBatch(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("selecting enrichment batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	var enriched, retried, failed int
	for _, article := range batch {
		err := s.enrichOne(ctx, article)
		if err == nil {
			enriched++
			continue
		}
		if errors.Is(err, llm.ErrBackendUnavailable) {
			s.logger.Printf("Model backend unavailable, aborting enrichment batch: %v", err)
			s.finish(ctx, enriched, retried, failed, time.Since(start))
			return err
		}

		s.logger.Printf("Enrichment attempt failed for article %d: %v", article.ID, err)
		state, recErr := s.db.RecordEnrichmentFailure(ctx, article.ID, retryLimit)
		if recErr != nil {
			s.logger.Printf("Error recording enrichment failure for article %d: %v", article.ID, recErr)
			continue
		}
		if state == database.StateEnrichmentFailed {
			s.logger.Printf("Article %d exhausted enrichment retries", article.ID)
			failed++
		} else {
			retried++
		}
	}

	s.finish(ctx, enriched, retried, failed, time.Since(start))
	return nil
}

func (s *Service) finish(ctx context.Context, enriched, retried, failed int, elapsed time.Duration) {
	s.metrics.RecordEnrichmentBatch(enriched, retried, failed, elapsed)
	if counts, err := s.db.CountArticlesByState(ctx); err == nil {
		s.metrics.SetArticleStates(counts)
	}
	if enriched+retried+failed > 0 {
		s.logger.Printf("Enrichment batch done: %d enriched, %d retried, %d failed", enriched, retried, failed)
	}
}

func (s *Service) enrichOne(ctx context.Context, article database.Article) error {
	// Partial articles need a successful inline backfill before any prompt
	// runs. A still-unreadable page skips the article this batch and counts
	// against its retry budget, so a dead page cannot hold a batch slot
	// forever.
	if article.State == database.StateIngestedPartial {
		body, err := s.extractor.ExtractBody(ctx, article.URL)
		if err != nil {
			return fmt.Errorf("body backfill: %w", err)
		}
		if err := s.db.BackfillArticleBody(ctx, article.ID, body); err != nil {
			return fmt.Errorf("body backfill: %w", err)
		}
		article.Content = body
	}

	var topic llm.TopicResult
	if err := s.client.CompleteJSON(ctx, llm.TopicPrompt(article.Title, article.Summary, article.Content), &topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	var category llm.CategoryResult
	if err := s.client.CompleteJSON(ctx, llm.CategoryPrompt(article.Title, article.Summary, article.Content), &category); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	var location llm.LocationResult
	if err := s.client.CompleteJSON(ctx, llm.LocationPrompt(article.Title, article.Summary, article.Content), &location); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	var brief llm.BriefResult
	if err := s.client.CompleteJSON(ctx, llm.BriefPrompt(article.Title, article.Summary, article.Content), &brief); err != nil {
		return fmt.Errorf("brief: %w", err)
	}

	_, err := s.db.CompleteEnrichment(ctx, database.Enrichment{
		ArticleID:          article.ID,
		Topic:              topic.Topic,
		TopicConfidence:    topic.Confidence,
		Category:           category.Category,
		Subcategory:        category.Subcategory,
		CategoryConfidence: category.Confidence,
		LocationName:       location.LocationName,
		LocationCountry:    location.Country,
		LocationConfidence: location.Confidence,
		Brief:              brief.Brief,
		Model:              s.client.Model(),
	})
	if err != nil {
		return fmt.Errorf("storing enrichment: %w", err)
	}
	return nil
}
