// internal/database/search.go
// Dashboard article queries with caller-driven filters, built with squirrel
// so optional predicates compose without string assembly.
package database

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ArticleFilter narrows a dashboard article listing. Zero values mean
// "no constraint".
type ArticleFilter struct {
	FeedID        int64
	State         string
	Topic         string
	Category      string
	PublishedFrom time.Time
	PublishedTo   time.Time
	Limit         int
	Offset        int
}

// ArticleListing is an article joined with its newest enrichment fields for
// dashboard display.
type ArticleListing struct {
	Article
	Topic    string
	Category string
	Brief    string
}

// SearchArticles lists articles matching the filter, newest first. Articles
// without an enrichment record appear with empty enrichment fields.
func (db *DB) SearchArticles(ctx context.Context, f ArticleFilter) ([]ArticleListing, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	builder := sq.Select(
		"a.id", "a.feed_id", "a.dedupe_key", "COALESCE(a.guid, '')", "a.url",
		"COALESCE(a.title, '')", "COALESCE(a.summary, '')",
		"a.published_at", "a.fetched_at",
		"a.state", "a.enrich_attempts", "a.created_at",
		"COALESCE(e.topic, '')", "COALESCE(e.category, '')", "COALESCE(e.brief, '')",
	).
		From("articles a").
		LeftJoin(`enrichments e ON e.article_id = a.id
			AND e.version = (SELECT MAX(version) FROM enrichments WHERE article_id = a.id)`).
		OrderBy("a.published_at DESC", "a.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(f.Offset, 0)))

	if f.FeedID > 0 {
		builder = builder.Where(sq.Eq{"a.feed_id": f.FeedID})
	}
	if f.State != "" {
		builder = builder.Where(sq.Eq{"a.state": f.State})
	}
	if f.Topic != "" {
		builder = builder.Where(sq.Eq{"e.topic": f.Topic})
	}
	if f.Category != "" {
		builder = builder.Where(sq.Eq{"e.category": f.Category})
	}
	if !f.PublishedFrom.IsZero() {
		builder = builder.Where(sq.GtOrEq{"a.published_at": f.PublishedFrom.UTC()})
	}
	if !f.PublishedTo.IsZero() {
		builder = builder.Where(sq.LtOrEq{"a.published_at": f.PublishedTo.UTC()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []ArticleListing
	for rows.Next() {
		var l ArticleListing
		var publishedAt sql.NullTime
		if err := rows.Scan(
			&l.ID, &l.FeedID, &l.DedupeKey, &l.GUID, &l.URL,
			&l.Title, &l.Summary,
			&publishedAt, &l.FetchedAt,
			&l.State, &l.EnrichAttempts, &l.CreatedAt,
			&l.Topic, &l.Category, &l.Brief,
		); err != nil {
			return nil, err
		}
		l.PublishedAt = publishedAt.Time
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
