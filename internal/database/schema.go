// internal/database/schema.go
// Database schema and bootstrap logic for the newsdesk pipeline store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const Schema = `
-- Settings table: runtime overrides polled by the config provider
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT,
    type TEXT,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Feeds table
CREATE TABLE IF NOT EXISTS feeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT,
    interval_seconds INTEGER NOT NULL DEFAULT 900 CHECK(interval_seconds > 0),
    enabled BOOLEAN NOT NULL DEFAULT 1,
    metadata TEXT,
    last_polled_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Articles table. feed_id intentionally carries no foreign key: articles
-- outlive their feed when a feed is removed from configuration.
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_id INTEGER NOT NULL,
    dedupe_key TEXT NOT NULL UNIQUE,
    guid TEXT,
    url TEXT NOT NULL,
    title TEXT,
    summary TEXT,
    content TEXT,
    published_at TIMESTAMP,
    fetched_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    state TEXT NOT NULL DEFAULT 'ingested'
        CHECK(state IN ('ingested', 'ingested_partial', 'enriched', 'enrichment_failed')),
    enrich_attempts INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Append-only ingestion audit trail, one row per completed run per feed
CREATE TABLE IF NOT EXISTS ingestion_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_id INTEGER NOT NULL,
    run_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    new_count INTEGER NOT NULL DEFAULT 0,
    duplicate_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

-- Enrichment records, immutable once written; re-enrichment bumps version
CREATE TABLE IF NOT EXISTS enrichments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    topic TEXT,
    topic_confidence REAL,
    category TEXT,
    subcategory TEXT,
    category_confidence REAL,
    location_name TEXT,
    location_country TEXT,
    location_confidence REAL,
    brief TEXT,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
    UNIQUE(article_id, version)
);

-- Summaries. Only status='completed' rows are visible to readers.
CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    window_start TIMESTAMP NOT NULL,
    window_end TIMESTAMP NOT NULL,
    headline TEXT NOT NULL,
    body TEXT NOT NULL,
    model TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'completed')),
    profile_snapshot TEXT,
    relevance_score INTEGER,
    relevance_label TEXT,
    criticality_score INTEGER,
    criticality_label TEXT,
    rating_explanation TEXT,
    ungraded BOOLEAN NOT NULL DEFAULT 0,
    critic_attempts INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP
);

-- Key points belonging to a summary, ordered by position
CREATE TABLE IF NOT EXISTS key_points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    summary_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    text TEXT NOT NULL,
    importance_score INTEGER,
    importance_label TEXT,
    action TEXT,
    rationale TEXT,
    FOREIGN KEY (summary_id) REFERENCES summaries(id) ON DELETE CASCADE,
    UNIQUE(summary_id, position)
);

-- Articles included in a summary, ranked
CREATE TABLE IF NOT EXISTS summary_articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    summary_id INTEGER NOT NULL,
    article_id INTEGER NOT NULL,
    rank INTEGER NOT NULL,
    FOREIGN KEY (summary_id) REFERENCES summaries(id) ON DELETE CASCADE,
    UNIQUE(summary_id, article_id)
);

-- User profiles used by the relevance critic
CREATE TABLE IF NOT EXISTS profiles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Admin users table
CREATE TABLE IF NOT EXISTS admin_users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    last_login TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Sessions table
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    FOREIGN KEY (user_id) REFERENCES admin_users(id) ON DELETE CASCADE
);`

const Indexes = `
CREATE INDEX IF NOT EXISTS idx_feeds_enabled ON feeds(enabled, last_polled_at);

CREATE INDEX IF NOT EXISTS idx_articles_feed ON articles(feed_id, published_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_state ON articles(state, fetched_at);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);

CREATE INDEX IF NOT EXISTS idx_ingestion_logs_feed ON ingestion_logs(feed_id, run_at DESC);

CREATE INDEX IF NOT EXISTS idx_enrichments_article ON enrichments(article_id, version DESC);

CREATE INDEX IF NOT EXISTS idx_summaries_status ON summaries(status, window_end DESC);
CREATE INDEX IF NOT EXISTS idx_key_points_summary ON key_points(summary_id, position);
CREATE INDEX IF NOT EXISTS idx_summary_articles_summary ON summary_articles(summary_id, rank);
CREATE INDEX IF NOT EXISTS idx_summary_articles_article ON summary_articles(article_id);

CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expires_at);`

// DB represents our database connection and operations
type DB struct {
	*sql.DB
}

// Configuration for the database
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the default database configuration
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// NewDB creates a new database connection with optimized settings
func NewDB(dbPath string, cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL",
		dbPath)

	// Every sqlite :memory: connection is its own database, so the pool must
	// stay at a single connection or the schema vanishes mid-test.
	if dbPath == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	return &DB{db}, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`
        PRAGMA journal_mode=WAL;
        PRAGMA synchronous=NORMAL;
        PRAGMA cache_size=10000;
        PRAGMA temp_store=MEMORY;
    `); err != nil {
		return fmt.Errorf("error setting pragmas: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing schema: %w", err)
	}

	if _, err := db.Exec(Indexes); err != nil {
		return fmt.Errorf("error creating indexes: %w", err)
	}

	if err := insertDefaultSettings(db); err != nil {
		return fmt.Errorf("error inserting default settings: %w", err)
	}

	return nil
}

// insertDefaultSettings seeds scheduler and pipeline defaults the first time
// the database is created. Existing values are never overwritten.
func insertDefaultSettings(db *sql.DB) error {
	defaults := []struct {
		key, value, valueType string
	}{
		{"tick_seconds", "5", "int"},
		{"config_poll_seconds", "60", "int"},
		{"enrichment_interval_seconds", "120", "int"},
		{"enrichment_batch_size", "10", "int"},
		{"enrichment_retry_limit", "3", "int"},
		{"summary_interval_seconds", "3600", "int"},
		{"summary_window_seconds", "3600", "int"},
		{"summary_max_articles", "15", "int"},
		{"critic_retry_limit", "3", "int"},
		{"profile_min_length", "40", "int"},
		{"llm_base_url", "http://localhost:11434", "string"},
		{"llm_model", "llama3.1:8b", "string"},
		{"fetch_concurrency", "4", "int"},
	}

	for _, s := range defaults {
		_, err := db.Exec(
			`INSERT INTO settings (key, value, type) VALUES (?, ?, ?)
             ON CONFLICT(key) DO NOTHING`,
			s.key, s.value, s.valueType,
		)
		if err != nil {
			return fmt.Errorf("error inserting default setting %s: %w", s.key, err)
		}
	}
	return nil
}
