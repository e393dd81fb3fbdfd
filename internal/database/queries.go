// internal/database/queries.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Error definitions
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Article processing states. Transitions only move forward:
// ingested -> enriched, ingested -> enrichment_failed (terminal).
// ingested_partial is a recoverable sub-state of ingested used when body
// extraction failed and a later pass may backfill it.
const (
	StateIngested         = "ingested"
	StateIngestedPartial  = "ingested_partial"
	StateEnriched         = "enriched"
	StateEnrichmentFailed = "enrichment_failed"
)

// Feed is a configured ingestion source
type Feed struct {
	ID           int64
	URL          string
	Title        string
	Interval     time.Duration
	Enabled      bool
	Metadata     string
	LastPolledAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Article is a single ingested item
type Article struct {
	ID             int64
	FeedID         int64
	DedupeKey      string
	GUID           string
	URL            string
	Title          string
	Summary        string
	Content        string
	PublishedAt    time.Time
	FetchedAt      time.Time
	State          string
	EnrichAttempts int
	CreatedAt      time.Time
}

// IngestionLog summarizes one completed ingestion run for one feed
type IngestionLog struct {
	ID             int64
	FeedID         int64
	RunAt          time.Time
	NewCount       int
	DuplicateCount int
	FailedCount    int
	Error          string
}

// Enrichment is the immutable LLM-generated metadata for an article
type Enrichment struct {
	ID                 int64
	ArticleID          int64
	Version            int
	Topic              string
	TopicConfidence    float64
	Category           string
	Subcategory        string
	CategoryConfidence float64
	LocationName       string
	LocationCountry    string
	LocationConfidence float64
	Brief              string
	Model              string
	CreatedAt          time.Time
}

// Profile is a user profile for relevance grading
type Profile struct {
	ID        int64
	Title     string
	Content   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetSetting retrieves a setting value
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?",
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// GetSettingInt retrieves and parses an integer setting
func (db *DB) GetSettingInt(ctx context.Context, key string) (int, error) {
	var value string
	var valueType string
	err := db.QueryRowContext(ctx,
		"SELECT value, type FROM settings WHERE key = ?",
		key,
	).Scan(&value, &valueType)

	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	if valueType != "int" {
		return 0, ErrInvalidInput
	}

	var intValue int
	_, err = fmt.Sscanf(value, "%d", &intValue)
	return intValue, err
}

// UpdateSetting upserts a setting
func (db *DB) UpdateSetting(ctx context.Context, key, value, valueType string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value, type, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		type = excluded.type,
		updated_at = CURRENT_TIMESTAMP`,
		key, value, valueType,
	)
	return err
}

// ListFeeds returns all configured feeds
func (db *DB) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, url, COALESCE(title, ''), interval_seconds, enabled,
		        COALESCE(metadata, ''), last_polled_at, created_at, updated_at
		FROM feeds
		ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// Nullable TIMESTAMP columns scan through sql.NullTime: wrapping them in an
// expression would erase the declared type the driver keys its time parsing
// on, handing back a bare string.
func scanFeed(rows *sql.Rows) (Feed, error) {
	var f Feed
	var intervalSeconds int64
	var lastPolled sql.NullTime
	err := rows.Scan(
		&f.ID, &f.URL, &f.Title, &intervalSeconds, &f.Enabled,
		&f.Metadata, &lastPolled, &f.CreatedAt, &f.UpdatedAt,
	)
	f.Interval = time.Duration(intervalSeconds) * time.Second
	f.LastPolledAt = lastPolled.Time
	return f, err
}

// GetFeed returns a single feed by id
func (db *DB) GetFeed(ctx context.Context, id int64) (Feed, error) {
	var f Feed
	var intervalSeconds int64
	var lastPolled sql.NullTime
	err := db.QueryRowContext(ctx,
		`SELECT id, url, COALESCE(title, ''), interval_seconds, enabled,
		        COALESCE(metadata, ''), last_polled_at, created_at, updated_at
		FROM feeds WHERE id = ?`,
		id,
	).Scan(
		&f.ID, &f.URL, &f.Title, &intervalSeconds, &f.Enabled,
		&f.Metadata, &lastPolled, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return Feed{}, ErrNotFound
	}
	f.Interval = time.Duration(intervalSeconds) * time.Second
	f.LastPolledAt = lastPolled.Time
	return f, err
}

// AddFeed inserts a new feed and returns its id
func (db *DB) AddFeed(ctx context.Context, url, title string, interval time.Duration, enabled bool, metadata string) (int64, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("%w: feed interval must be positive", ErrInvalidInput)
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO feeds (url, title, interval_seconds, enabled, metadata)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
		url, title, int64(interval/time.Second), enabled, metadata,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateFeed changes a feed's mutable attributes
func (db *DB) UpdateFeed(ctx context.Context, id int64, title string, interval time.Duration, enabled bool) error {
	if interval <= 0 {
		return fmt.Errorf("%w: feed interval must be positive", ErrInvalidInput)
	}
	result, err := db.ExecContext(ctx,
		`UPDATE feeds
		SET title = ?, interval_seconds = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		title, int64(interval/time.Second), enabled, id,
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

// DeleteFeed removes the feed row. Articles already ingested from the feed
// are kept; only future scheduling stops.
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
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

// TouchFeedPolled records the time a feed's ingestion run finished
func (db *DB) TouchFeedPolled(ctx context.Context, id int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		"UPDATE feeds SET last_polled_at = ? WHERE id = ?",
		at.UTC(), id,
	)
	return err
}

// AppendIngestionLog records the outcome of one ingestion run
func (db *DB) AppendIngestionLog(ctx context.Context, l IngestionLog) (int64, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO ingestion_logs (feed_id, run_at, new_count, duplicate_count, failed_count, error)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))`,
		l.FeedID, l.RunAt.UTC(), l.NewCount, l.DuplicateCount, l.FailedCount, l.Error,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListIngestionLogs returns the most recent ingestion runs, newest first.
// feedID 0 means all feeds.
func (db *DB) ListIngestionLogs(ctx context.Context, feedID int64, limit int) ([]IngestionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, feed_id, run_at, new_count, duplicate_count, failed_count, COALESCE(error, '')
		FROM ingestion_logs`
	args := []any{}
	if feedID > 0 {
		query += " WHERE feed_id = ?"
		args = append(args, feedID)
	}
	query += " ORDER BY run_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []IngestionLog
	for rows.Next() {
		var l IngestionLog
		if err := rows.Scan(&l.ID, &l.FeedID, &l.RunAt, &l.NewCount, &l.DuplicateCount, &l.FailedCount, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ActiveProfile returns the active user profile, or ErrNotFound when none
// is configured.
func (db *DB) ActiveProfile(ctx context.Context) (Profile, error) {
	var p Profile
	err := db.QueryRowContext(ctx,
		`SELECT id, title, content, is_active, created_at, updated_at
		FROM profiles
		WHERE is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1`,
	).Scan(&p.ID, &p.Title, &p.Content, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	return p, err
}

// SaveProfile replaces the active profile, deactivating earlier ones so the
// grading history of old summaries stays traceable.
func (db *DB) SaveProfile(ctx context.Context, title, content string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE profiles SET is_active = 0 WHERE is_active = 1"); err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx,
		"INSERT INTO profiles (title, content, is_active) VALUES (?, ?, 1)",
		title, content,
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}
