// internal/database/articles.go
package database

import (
	"context"
	"database/sql"
)

// published_at stays a bare column reference so the driver keeps its
// declared TIMESTAMP type; the scan goes through sql.NullTime instead.
const articleColumns = `id, feed_id, dedupe_key, COALESCE(guid, ''), url,
	COALESCE(title, ''), COALESCE(summary, ''), COALESCE(content, ''),
	published_at, fetched_at, state, enrich_attempts, created_at`

func scanArticle(row interface {
	Scan(dest ...any) error
}) (Article, error) {
	var a Article
	var publishedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.FeedID, &a.DedupeKey, &a.GUID, &a.URL,
		&a.Title, &a.Summary, &a.Content,
		&publishedAt, &a.FetchedAt, &a.State,
		&a.EnrichAttempts, &a.CreatedAt,
	)
	a.PublishedAt = publishedAt.Time
	return a, err
}

// GetArticle returns a single article by id
func (db *DB) GetArticle(ctx context.Context, id int64) (Article, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+articleColumns+" FROM articles WHERE id = ?", id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return Article{}, ErrNotFound
	}
	return a, err
}

// InsertArticle inserts an article if its dedupe key is unseen. The
// conflict target makes the exists-check and insert one atomic unit, so the
// store stays the single arbiter of uniqueness under concurrent ingestion.
// Returns false when the article already existed.
func (db *DB) InsertArticle(ctx context.Context, a Article) (int64, bool, error) {
	var publishedAt any
	if !a.PublishedAt.IsZero() {
		publishedAt = a.PublishedAt.UTC()
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO articles (feed_id, dedupe_key, guid, url, title, summary, content, published_at, fetched_at, state)
		VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING`,
		a.FeedID, a.DedupeKey, a.GUID, a.URL, a.Title, a.Summary, a.Content,
		publishedAt, a.FetchedAt.UTC(), a.State,
	)
	if err != nil {
		return 0, false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if rows == 0 {
		return 0, false, nil
	}
	id, err := result.LastInsertId()
	return id, true, err
}

// ArticleExists reports whether an article with the dedupe key is stored
func (db *DB) ArticleExists(ctx context.Context, dedupeKey string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM articles WHERE dedupe_key = ?", dedupeKey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// BackfillArticleBody fills in content for a partially ingested article and
// promotes it back to the ingested state.
func (db *DB) BackfillArticleBody(ctx context.Context, id int64, content string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE articles SET content = ?, state = ?
		WHERE id = ? AND state = ?`,
		content, StateIngested, id, StateIngestedPartial,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SelectEnrichmentBatch returns the oldest articles still awaiting
// enrichment. Partially ingested articles are included so the enrichment
// pass can attempt an inline body backfill.
func (db *DB) SelectEnrichmentBatch(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+articleColumns+` FROM articles
		WHERE state IN (?, ?)
		ORDER BY fetched_at ASC, id ASC
		LIMIT ?`,
		StateIngested, StateIngestedPartial, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// CompleteEnrichment writes the enrichment record and advances the article
// to enriched in one transaction. An article is never marked enriched
// without its record.
func (db *DB) CompleteEnrichment(ctx context.Context, e Enrichment) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM enrichments WHERE article_id = ?",
		e.ArticleID,
	).Scan(&version); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO enrichments (article_id, version, topic, topic_confidence,
			category, subcategory, category_confidence,
			location_name, location_country, location_confidence, brief, model)
		VALUES (?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)`,
		e.ArticleID, version, e.Topic, e.TopicConfidence,
		e.Category, e.Subcategory, e.CategoryConfidence,
		e.LocationName, e.LocationCountry, e.LocationConfidence, e.Brief, e.Model,
	)
	if err != nil {
		return 0, err
	}

	updated, err := tx.ExecContext(ctx,
		`UPDATE articles SET state = ? WHERE id = ? AND state IN (?, ?)`,
		StateEnriched, e.ArticleID, StateIngested, StateIngestedPartial,
	)
	if err != nil {
		return 0, err
	}
	rows, err := updated.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrNotFound
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// RecordEnrichmentFailure increments the persisted attempt counter and
// moves the article to the terminal enrichment_failed state once the retry
// limit is reached. Returns the state after the update.
func (db *DB) RecordEnrichmentFailure(ctx context.Context, articleID int64, retryLimit int) (string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var attempts int
	var state string
	err = tx.QueryRowContext(ctx,
		"SELECT enrich_attempts, state FROM articles WHERE id = ?", articleID,
	).Scan(&attempts, &state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	attempts++
	if attempts >= retryLimit {
		state = StateEnrichmentFailed
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE articles SET enrich_attempts = ?, state = ? WHERE id = ?",
		attempts, state, articleID,
	); err != nil {
		return "", err
	}
	return state, tx.Commit()
}

// LatestEnrichment returns the newest enrichment record for an article
func (db *DB) LatestEnrichment(ctx context.Context, articleID int64) (Enrichment, error) {
	var e Enrichment
	err := db.QueryRowContext(ctx,
		`SELECT id, article_id, version, COALESCE(topic, ''), COALESCE(topic_confidence, 0),
			COALESCE(category, ''), COALESCE(subcategory, ''), COALESCE(category_confidence, 0),
			COALESCE(location_name, ''), COALESCE(location_country, ''), COALESCE(location_confidence, 0),
			COALESCE(brief, ''), model, created_at
		FROM enrichments
		WHERE article_id = ?
		ORDER BY version DESC
		LIMIT 1`,
		articleID,
	).Scan(
		&e.ID, &e.ArticleID, &e.Version, &e.Topic, &e.TopicConfidence,
		&e.Category, &e.Subcategory, &e.CategoryConfidence,
		&e.LocationName, &e.LocationCountry, &e.LocationConfidence,
		&e.Brief, &e.Model, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return Enrichment{}, ErrNotFound
	}
	return e, err
}

// CountArticlesByState returns state -> count, used by the dashboard and by
// operators watching for stuck articles.
func (db *DB) CountArticlesByState(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM articles GROUP BY state")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
