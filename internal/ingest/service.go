// internal/ingest/service.go
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"newsdesk/internal/database"
	"newsdesk/internal/fetch"
	"newsdesk/internal/metrics"
)

// Fetcher is the slice of the fetch layer ingestion needs
type Fetcher interface {
	ListCandidates(ctx context.Context, feed database.Feed) ([]fetch.Candidate, error)
	ExtractBody(ctx context.Context, articleURL string) (string, error)
}

// Service turns feed items into stored articles. One Run handles one feed;
// the scheduler decides when runs happen.
type Service struct {
	db      *database.DB
	fetcher Fetcher
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewService(db *database.DB, fetcher Fetcher, logger *log.Logger, m *metrics.Metrics) *Service {
	return &Service{db: db, fetcher: fetcher, logger: logger, metrics: m}
}

// DedupeKey derives the stable identity of a feed item: the feed id plus the
// item guid, or its URL when no guid is present.
func DedupeKey(feedID int64, guid, url string) string {
	ident := guid
	if ident == "" {
		ident = url
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", feedID, ident)))
	return hex.EncodeToString(sum[:])
}

// Run ingests one feed: fetch, dedupe, extract bodies, store. A fetch
// failure still produces an ingestion log entry so operators can see dead
// feeds in the run history.
func (s *Service) Run(ctx context.Context, feed database.Feed) error {
	runAt := time.Now().UTC()

	candidates, err := s.fetcher.ListCandidates(ctx, feed)
	if err != nil {
		s.logger.Printf("Error fetching feed %s: %v", feed.URL, err)
		if _, logErr := s.db.AppendIngestionLog(ctx, database.IngestionLog{
			FeedID: feed.ID,
			RunAt:  runAt,
			Error:  err.Error(),
		}); logErr != nil {
			s.logger.Printf("Error recording failed run for feed %d: %v", feed.ID, logErr)
		}
		s.metrics.RecordIngestion(0, 0, 0, true, time.Since(runAt))
		return err
	}

	// Oldest first, so insertion order follows publication order
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Published.Before(candidates[j].Published)
	})

	var newCount, duplicateCount, failedCount int
	for _, c := range candidates {
		if c.URL == "" && c.GUID == "" {
			failedCount++
			continue
		}
		key := DedupeKey(feed.ID, c.GUID, c.URL)

		// Cheap pre-check keeps us from re-downloading known article pages.
		// The insert below remains the authoritative duplicate gate.
		exists, err := s.db.ArticleExists(ctx, key)
		if err != nil {
			return fmt.Errorf("checking article %s: %w", key, err)
		}
		if exists {
			duplicateCount++
			continue
		}

		state := database.StateIngested
		var body string
		if c.URL != "" {
			body, err = s.fetcher.ExtractBody(ctx, c.URL)
			if err != nil {
				s.logger.Printf("Body extraction failed for %s, storing without body: %v", c.URL, err)
				state = database.StateIngestedPartial
			}
		} else {
			state = database.StateIngestedPartial
		}

		_, inserted, err := s.db.InsertArticle(ctx, database.Article{
			FeedID:      feed.ID,
			DedupeKey:   key,
			GUID:        c.GUID,
			URL:         c.URL,
			Title:       c.Title,
			Summary:     c.Summary,
			Content:     body,
			PublishedAt: c.Published,
			FetchedAt:   time.Now().UTC(),
			State:       state,
		})
		if err != nil {
			s.logger.Printf("Error storing article %s: %v", c.URL, err)
			failedCount++
			continue
		}
		if inserted {
			newCount++
		} else {
			duplicateCount++
		}
	}

	if err := s.db.TouchFeedPolled(ctx, feed.ID, time.Now().UTC()); err != nil {
		s.logger.Printf("Error updating poll time for feed %d: %v", feed.ID, err)
	}
	if _, err := s.db.AppendIngestionLog(ctx, database.IngestionLog{
		FeedID:         feed.ID,
		RunAt:          runAt,
		NewCount:       newCount,
		DuplicateCount: duplicateCount,
		FailedCount:    failedCount,
	}); err != nil {
		s.logger.Printf("Error recording run for feed %d: %v", feed.ID, err)
	}
	s.metrics.RecordIngestion(newCount, duplicateCount, failedCount, false, time.Since(runAt))

	s.logger.Printf("Ingested feed %s: %d new, %d duplicate, %d failed",
		feed.URL, newCount, duplicateCount, failedCount)
	return nil
}
