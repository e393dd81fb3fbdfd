// internal/database/summaries.go
package database

import (
	"context"
	"database/sql"
	"time"
)

// Summary is a newsroom digest over a time window. Pending summaries hold
// generated key points that are still waiting on the relevance critic; they
// are invisible to read APIs until completed.
type Summary struct {
	ID                int64
	WindowStart       time.Time
	WindowEnd         time.Time
	Headline          string
	Body              string
	Model             string
	Status            string
	ProfileSnapshot   string
	RelevanceScore    int
	RelevanceLabel    string
	CriticalityScore  int
	CriticalityLabel  string
	RatingExplanation string
	Ungraded          bool
	CriticAttempts    int
	CreatedAt         time.Time
	CompletedAt       time.Time
}

// KeyPoint is one reviewed point within a summary
type KeyPoint struct {
	ID              int64
	SummaryID       int64
	Position        int
	Text            string
	ImportanceScore int
	ImportanceLabel string
	Action          string
	Rationale       string
}

// SummaryRating carries the critic's output for completing a summary
type SummaryRating struct {
	RelevanceScore    int
	RelevanceLabel    string
	CriticalityScore  int
	CriticalityLabel  string
	RatingExplanation string
}

const (
	SummaryPending   = "pending"
	SummaryCompleted = "completed"
)

// LatestSummaryWindowEnd returns the window end of the newest summary of
// any status, or the zero time when no summary exists yet.
func (db *DB) LatestSummaryWindowEnd(ctx context.Context) (time.Time, error) {
	var end time.Time
	err := db.QueryRowContext(ctx,
		"SELECT window_end FROM summaries ORDER BY window_end DESC LIMIT 1",
	).Scan(&end)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return end, err
}

// SelectSummarizable returns enriched articles in (start, end] that are not
// yet attached to any summary, newest first, capped at limit.
func (db *DB) SelectSummarizable(ctx context.Context, start, end time.Time, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 15
	}
	rows, err := db.QueryContext(ctx,
		"SELECT "+articleColumns+` FROM articles
		WHERE state = ?
		  AND published_at IS NOT NULL
		  AND published_at > ?
		  AND published_at <= ?
		  AND id NOT IN (SELECT article_id FROM summary_articles)
		ORDER BY published_at DESC, id DESC
		LIMIT ?`,
		StateEnriched, start.UTC(), end.UTC(), limit,
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

// CreatePendingSummary persists the reporter output (headline, body, key
// points, ranked article set) as a pending summary in one transaction, so
// key points survive a failed critic pass without ever being readable.
func (db *DB) CreatePendingSummary(ctx context.Context, s Summary, points []KeyPoint, articleIDs []int64) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (window_start, window_end, headline, body, model, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.WindowStart.UTC(), s.WindowEnd.UTC(), s.Headline, s.Body, s.Model, SummaryPending,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, p := range points {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO key_points (summary_id, position, text) VALUES (?, ?, ?)",
			id, i, p.Text,
		); err != nil {
			return 0, err
		}
	}
	for rank, articleID := range articleIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO summary_articles (summary_id, article_id, rank) VALUES (?, ?, ?)",
			id, articleID, rank,
		); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit()
}

// ListPendingSummaries returns summaries still awaiting the critic pass,
// oldest first.
func (db *DB) ListPendingSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := db.QueryContext(ctx,
		summarySelect+" WHERE status = ? ORDER BY created_at ASC", SummaryPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// IncrementCriticAttempts bumps the persisted critic retry counter and
// returns the new value.
func (db *DB) IncrementCriticAttempts(ctx context.Context, id int64) (int, error) {
	_, err := db.ExecContext(ctx,
		"UPDATE summaries SET critic_attempts = critic_attempts + 1 WHERE id = ?", id)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = db.QueryRowContext(ctx,
		"SELECT critic_attempts FROM summaries WHERE id = ?", id,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return attempts, err
}

// CompleteSummary applies the critic's ratings and flips the summary to
// completed in one transaction. Key point ratings arrive keyed by position.
func (db *DB) CompleteSummary(ctx context.Context, id int64, profileSnapshot string, rating SummaryRating, points []KeyPoint, completedAt time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE summaries
		SET status = ?, profile_snapshot = ?,
		    relevance_score = ?, relevance_label = ?,
		    criticality_score = ?, criticality_label = ?,
		    rating_explanation = ?, ungraded = 0, completed_at = ?
		WHERE id = ? AND status = ?`,
		SummaryCompleted, profileSnapshot,
		rating.RelevanceScore, rating.RelevanceLabel,
		rating.CriticalityScore, rating.CriticalityLabel,
		rating.RatingExplanation, completedAt.UTC(),
		id, SummaryPending,
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

	for _, p := range points {
		if _, err := tx.ExecContext(ctx,
			`UPDATE key_points
			SET importance_score = ?, importance_label = ?, action = ?, rationale = ?
			WHERE summary_id = ? AND position = ?`,
			p.ImportanceScore, p.ImportanceLabel, p.Action, p.Rationale,
			id, p.Position,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CompleteSummaryUngraded publishes a summary whose critic retries were
// exhausted: neutral rating, flagged as ungraded so readers see it marked
// rather than losing the key points.
func (db *DB) CompleteSummaryUngraded(ctx context.Context, id int64, profileSnapshot string, completedAt time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE summaries
		SET status = ?, profile_snapshot = ?,
		    relevance_score = 0, relevance_label = 'Low',
		    criticality_score = 0, criticality_label = 'Low',
		    rating_explanation = 'relevance grading unavailable',
		    ungraded = 1, completed_at = ?
		WHERE id = ? AND status = ?`,
		SummaryCompleted, profileSnapshot, completedAt.UTC(), id, SummaryPending,
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

const summarySelect = `SELECT id, window_start, window_end, headline, body, model, status,
	COALESCE(profile_snapshot, ''),
	COALESCE(relevance_score, 0), COALESCE(relevance_label, ''),
	COALESCE(criticality_score, 0), COALESCE(criticality_label, ''),
	COALESCE(rating_explanation, ''), ungraded, critic_attempts,
	created_at, completed_at
	FROM summaries`

func collectSummaries(rows *sql.Rows) ([]Summary, error) {
	var summaries []Summary
	for rows.Next() {
		var s Summary
		var completedAt sql.NullTime
		if err := rows.Scan(
			&s.ID, &s.WindowStart, &s.WindowEnd, &s.Headline, &s.Body, &s.Model, &s.Status,
			&s.ProfileSnapshot,
			&s.RelevanceScore, &s.RelevanceLabel,
			&s.CriticalityScore, &s.CriticalityLabel,
			&s.RatingExplanation, &s.Ungraded, &s.CriticAttempts,
			&s.CreatedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		s.CompletedAt = completedAt.Time
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// ListCompletedSummaries returns published summaries, newest first. Pending
// summaries are never returned here.
func (db *DB) ListCompletedSummaries(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		summarySelect+" WHERE status = ? ORDER BY window_end DESC LIMIT ?",
		SummaryCompleted, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// GetCompletedSummary returns one published summary with its key points and
// ranked article ids.
func (db *DB) GetCompletedSummary(ctx context.Context, id int64) (Summary, []KeyPoint, []int64, error) {
	rows, err := db.QueryContext(ctx, summarySelect+" WHERE id = ? AND status = ?", id, SummaryCompleted)
	if err != nil {
		return Summary{}, nil, nil, err
	}
	summaries, err := collectSummaries(rows)
	rows.Close()
	if err != nil {
		return Summary{}, nil, nil, err
	}
	if len(summaries) == 0 {
		return Summary{}, nil, nil, ErrNotFound
	}

	points, err := db.SummaryKeyPoints(ctx, id)
	if err != nil {
		return Summary{}, nil, nil, err
	}

	articleIDs, err := db.summaryArticleIDs(ctx, id)
	if err != nil {
		return Summary{}, nil, nil, err
	}
	return summaries[0], points, articleIDs, nil
}

// SummaryKeyPoints returns a summary's key points, highest importance
// first. Ungraded points all carry score 0 and fall back to reporter order.
func (db *DB) SummaryKeyPoints(ctx context.Context, summaryID int64) ([]KeyPoint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, summary_id, position, text,
			COALESCE(importance_score, 0), COALESCE(importance_label, ''),
			COALESCE(action, ''), COALESCE(rationale, '')
		FROM key_points
		WHERE summary_id = ?
		ORDER BY COALESCE(importance_score, 0) DESC, position`,
		summaryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []KeyPoint
	for rows.Next() {
		var p KeyPoint
		if err := rows.Scan(
			&p.ID, &p.SummaryID, &p.Position, &p.Text,
			&p.ImportanceScore, &p.ImportanceLabel, &p.Action, &p.Rationale,
		); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (db *DB) summaryArticleIDs(ctx context.Context, summaryID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT article_id FROM summary_articles WHERE summary_id = ? ORDER BY rank",
		summaryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
