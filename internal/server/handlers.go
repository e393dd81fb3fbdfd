// internal/server/handlers.go
// Read-side dashboard handlers.
package server

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"newsdesk/internal/database"
	"newsdesk/internal/rss"
)

type articleResponse struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	State       string     `json:"state"`
	Topic       string     `json:"topic,omitempty"`
	Category    string     `json:"category,omitempty"`
	Subcategory string     `json:"subcategory,omitempty"`
	Location    string     `json:"location,omitempty"`
	Brief       string     `json:"brief,omitempty"`
}

func publishedOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ArticleFilter{
		State:    q.Get("state"),
		Topic:    q.Get("topic"),
		Category: q.Get("category"),
	}
	if v := q.Get("feed_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid feed_id")
			return
		}
		filter.FeedID = id
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"published_from", &filter.PublishedFrom}, {"published_to", &filter.PublishedTo}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid "+p.name)
				return
			}
			*p.dst = t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	listings, err := s.db.SearchArticles(r.Context(), filter)
	if err != nil {
		s.logger.Printf("Error listing articles: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]articleResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, articleResponse{
			ID:          l.ID,
			FeedID:      l.FeedID,
			URL:         l.URL,
			Title:       l.Title,
			Summary:     l.Summary,
			PublishedAt: publishedOrNil(l.PublishedAt),
			FetchedAt:   l.FetchedAt,
			State:       l.State,
			Topic:       l.Topic,
			Category:    l.Category,
			Brief:       l.Brief,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"articles": out})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid article id")
		return
	}
	article, err := s.db.GetArticle(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Printf("Error loading article %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := articleResponse{
		ID:          article.ID,
		FeedID:      article.FeedID,
		URL:         article.URL,
		Title:       article.Title,
		Summary:     article.Summary,
		Content:     article.Content,
		PublishedAt: publishedOrNil(article.PublishedAt),
		FetchedAt:   article.FetchedAt,
		State:       article.State,
	}
	if rec, err := s.db.LatestEnrichment(r.Context(), id); err == nil {
		resp.Topic = rec.Topic
		resp.Category = rec.Category
		resp.Subcategory = rec.Subcategory
		resp.Location = rec.LocationName
		resp.Brief = rec.Brief
	} else if !errors.Is(err, database.ErrNotFound) {
		s.logger.Printf("Error loading enrichment for article %d: %v", id, err)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type keyPointResponse struct {
	Text            string `json:"text"`
	ImportanceScore int    `json:"importance_score"`
	ImportanceLabel string `json:"importance_label,omitempty"`
	Action          string `json:"action,omitempty"`
	Rationale       string `json:"rationale,omitempty"`
}

type summaryResponse struct {
	ID                int64              `json:"id"`
	WindowStart       time.Time          `json:"window_start"`
	WindowEnd         time.Time          `json:"window_end"`
	Headline          string             `json:"headline"`
	Body              string             `json:"body"`
	RelevanceScore    int                `json:"relevance_score"`
	RelevanceLabel    string             `json:"relevance_label"`
	CriticalityScore  int                `json:"criticality_score"`
	CriticalityLabel  string             `json:"criticality_label"`
	RatingExplanation string             `json:"rating_explanation,omitempty"`
	Ungraded          bool               `json:"ungraded"`
	CompletedAt       time.Time          `json:"completed_at"`
	KeyPoints         []keyPointResponse `json:"key_points,omitempty"`
	ArticleIDs        []int64            `json:"article_ids,omitempty"`
}

func toSummaryResponse(sum database.Summary) summaryResponse {
	return summaryResponse{
		ID:                sum.ID,
		WindowStart:       sum.WindowStart,
		WindowEnd:         sum.WindowEnd,
		Headline:          sum.Headline,
		Body:              sum.Body,
		RelevanceScore:    sum.RelevanceScore,
		RelevanceLabel:    sum.RelevanceLabel,
		CriticalityScore:  sum.CriticalityScore,
		CriticalityLabel:  sum.CriticalityLabel,
		RatingExplanation: sum.RatingExplanation,
		Ungraded:          sum.Ungraded,
		CompletedAt:       sum.CompletedAt,
	}
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	summaries, err := s.db.ListCompletedSummaries(r.Context(), limit)
	if err != nil {
		s.logger.Printf("Error listing summaries: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, toSummaryResponse(sum))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"summaries": out})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid summary id")
		return
	}
	sum, points, articleIDs, err := s.db.GetCompletedSummary(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		s.logger.Printf("Error loading summary %d: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := toSummaryResponse(sum)
	resp.ArticleIDs = articleIDs
	resp.KeyPoints = make([]keyPointResponse, 0, len(points))
	for _, p := range points {
		resp.KeyPoints = append(resp.KeyPoints, keyPointResponse{
			Text:            p.Text,
			ImportanceScore: p.ImportanceScore,
			ImportanceLabel: p.ImportanceLabel,
			Action:          p.Action,
			Rationale:       p.Rationale,
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type feedResponse struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	IntervalSecs int64      `json:"interval_seconds"`
	Enabled      bool       `json:"enabled"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeeds(r.Context())
	if err != nil {
		s.logger.Printf("Error listing feeds: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, feedResponse{
			ID:           f.ID,
			URL:          f.URL,
			Title:        f.Title,
			IntervalSecs: int64(f.Interval.Seconds()),
			Enabled:      f.Enabled,
			LastPolledAt: publishedOrNil(f.LastPolledAt),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"feeds": out})
}

func (s *Server) handleListIngestionLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var feedID int64
	if v := q.Get("feed_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid feed_id")
			return
		}
		feedID = id
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	logs, err := s.db.ListIngestionLogs(r.Context(), feedID, limit)
	if err != nil {
		s.logger.Printf("Error listing ingestion logs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	type logResponse struct {
		ID             int64     `json:"id"`
		FeedID         int64     `json:"feed_id"`
		RunAt          time.Time `json:"run_at"`
		NewCount       int       `json:"new_count"`
		DuplicateCount int       `json:"duplicate_count"`
		FailedCount    int       `json:"failed_count"`
		Error          string    `json:"error,omitempty"`
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			ID:             l.ID,
			FeedID:         l.FeedID,
			RunAt:          l.RunAt,
			NewCount:       l.NewCount,
			DuplicateCount: l.DuplicateCount,
			FailedCount:    l.FailedCount,
			Error:          l.Error,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"logs": out})
}

// handleSummariesRSS exposes completed summaries as an RSS feed, so the
// digest can be consumed by the same kind of reader it ingests from.
func (s *Server) handleSummariesRSS(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.db.ListCompletedSummaries(r.Context(), 50)
	if err != nil {
		s.logger.Printf("Error listing summaries for rss: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items := make([]rss.Item, 0, len(summaries))
	for _, sum := range summaries {
		items = append(items, rss.Item{
			Title:       sum.Headline,
			Link:        fmt.Sprintf("/api/summaries/%d", sum.ID),
			Description: sum.Body,
			PubDate:     sum.CompletedAt.Format(time.RFC1123Z),
			GUID:        fmt.Sprintf("newsdesk-summary-%d", sum.ID),
		})
	}
	doc := rss.New("Newsdesk digests", "/api/summaries",
		"Reviewed summaries of recently ingested news", items)

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Printf("Error encoding rss: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CountArticlesByState(r.Context())
	if err != nil {
		s.logger.Printf("Error counting articles: %v", err)
		s.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"articles_by_state": counts})
}
