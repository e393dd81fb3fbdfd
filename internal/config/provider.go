// internal/config/provider.go
package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"newsdesk/internal/database"
)

// Snapshot is an immutable view of the runtime configuration: the feed set
// plus every tunable the pipeline reads. The scheduler swaps whole snapshots
// so a cycle never observes a half-applied config change.
type Snapshot struct {
	Feeds []database.Feed

	Tick       time.Duration
	ConfigPoll time.Duration

	EnrichmentInterval   time.Duration
	EnrichmentBatchSize  int
	EnrichmentRetryLimit int

	SummaryInterval    time.Duration
	SummaryWindow      time.Duration
	SummaryMaxArticles int
	CriticRetryLimit   int
	ProfileMinLength   int

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	FetchConcurrency int
}

// Provider reads runtime configuration from the database
type Provider struct {
	db     *database.DB
	logger *log.Logger
}

func NewProvider(db *database.DB, logger *log.Logger) *Provider {
	return &Provider{db: db, logger: logger}
}

// Seed applies the settings file once at startup. Seeding is additive only:
// setting keys are written when absent, feeds are inserted only into an
// empty feeds table, and the profile only when none is active. Operator
// edits made through the dashboard always win over the file.
func (p *Provider) Seed(ctx context.Context, s Settings) error {
	seedInts := map[string]int{
		"tick_seconds":                s.Scheduler.TickSeconds,
		"config_poll_seconds":         s.Scheduler.ConfigPollSeconds,
		"enrichment_interval_seconds": s.Enrichment.IntervalSeconds,
		"enrichment_batch_size":       s.Enrichment.BatchSize,
		"enrichment_retry_limit":      s.Enrichment.RetryLimit,
		"summary_interval_seconds":    s.Summarization.IntervalSeconds,
		"summary_window_seconds":      s.Summarization.WindowSeconds,
		"summary_max_articles":        s.Summarization.MaxArticles,
		"critic_retry_limit":          s.Summarization.CriticRetries,
	}
	for key, value := range seedInts {
		if value <= 0 {
			continue
		}
		if err := p.seedSetting(ctx, key, strconv.Itoa(value), "int"); err != nil {
			return err
		}
	}

	seedStrings := map[string]string{
		"llm_base_url": s.LLM.BaseURL,
		"llm_model":    s.LLM.Model,
		"llm_api_key":  s.LLM.APIKey,
	}
	for key, value := range seedStrings {
		if value == "" {
			continue
		}
		if err := p.seedSetting(ctx, key, value, "string"); err != nil {
			return err
		}
	}

	if len(s.Feeds) > 0 {
		existing, err := p.db.ListFeeds(ctx)
		if err != nil {
			return fmt.Errorf("listing feeds for seed: %w", err)
		}
		if len(existing) == 0 {
			for _, f := range s.Feeds {
				interval := time.Duration(f.IntervalSeconds) * time.Second
				if interval <= 0 {
					interval = 300 * time.Second
				}
				enabled := f.Enabled == nil || *f.Enabled
				if _, err := p.db.AddFeed(ctx, f.URL, f.Title, interval, enabled, ""); err != nil {
					return fmt.Errorf("seeding feed %s: %w", f.URL, err)
				}
				p.logger.Printf("Seeded feed %s (interval %s)", f.URL, interval)
			}
		}
	}

	if s.Profile.Content != "" {
		_, err := p.db.ActiveProfile(ctx)
		if errors.Is(err, database.ErrNotFound) {
			if _, err := p.db.SaveProfile(ctx, s.Profile.Title, s.Profile.Content); err != nil {
				return fmt.Errorf("seeding profile: %w", err)
			}
			p.logger.Printf("Seeded audience profile %q", s.Profile.Title)
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) seedSetting(ctx context.Context, key, value, valueType string) error {
	_, err := p.db.GetSetting(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return p.db.UpdateSetting(ctx, key, value, valueType)
	}
	return err
}

// Load builds a fresh snapshot from the database. Missing or malformed
// settings fall back to the schema defaults so a bad edit degrades one knob
// instead of taking down the scheduler.
func (p *Provider) Load(ctx context.Context) (*Snapshot, error) {
	feeds, err := p.db.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading feeds: %w", err)
	}

	snap := &Snapshot{
		Feeds:                feeds,
		Tick:                 p.durationSetting(ctx, "tick_seconds", 5*time.Second),
		ConfigPoll:           p.durationSetting(ctx, "config_poll_seconds", 60*time.Second),
		EnrichmentInterval:   p.durationSetting(ctx, "enrichment_interval_seconds", 120*time.Second),
		EnrichmentBatchSize:  p.intSetting(ctx, "enrichment_batch_size", 10),
		EnrichmentRetryLimit: p.intSetting(ctx, "enrichment_retry_limit", 3),
		SummaryInterval:      p.durationSetting(ctx, "summary_interval_seconds", time.Hour),
		SummaryWindow:        p.durationSetting(ctx, "summary_window_seconds", time.Hour),
		SummaryMaxArticles:   p.intSetting(ctx, "summary_max_articles", 15),
		CriticRetryLimit:     p.intSetting(ctx, "critic_retry_limit", 3),
		ProfileMinLength:     p.intSetting(ctx, "profile_min_length", 40),
		LLMBaseURL:           p.stringSetting(ctx, "llm_base_url", "http://localhost:11434"),
		LLMModel:             p.stringSetting(ctx, "llm_model", "llama3.1:8b"),
		LLMAPIKey:            p.stringSetting(ctx, "llm_api_key", ""),
		FetchConcurrency:     p.intSetting(ctx, "fetch_concurrency", 4),
	}
	return snap, nil
}

func (p *Provider) intSetting(ctx context.Context, key string, fallback int) int {
	v, err := p.db.GetSettingInt(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			p.logger.Printf("Setting %s unreadable, using default %d: %v", key, fallback, err)
		}
		return fallback
	}
	if v <= 0 {
		return fallback
	}
	return v
}

func (p *Provider) durationSetting(ctx context.Context, key string, fallback time.Duration) time.Duration {
	seconds := p.intSetting(ctx, key, int(fallback/time.Second))
	return time.Duration(seconds) * time.Second
}

func (p *Provider) stringSetting(ctx context.Context, key, fallback string) string {
	v, err := p.db.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	return v
}
