package config

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"newsdesk/internal/database"
)

func setupProvider(t *testing.T) (*Provider, *database.DB) {
	t.Helper()
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := log.New(os.Stderr, "[test] ", log.LstdFlags)
	return NewProvider(db, logger), db
}

func TestLoadDefaults(t *testing.T) {
	p, _ := setupProvider(t)

	snap, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.Tick != 5*time.Second {
		t.Errorf("Tick = %v; want 5s", snap.Tick)
	}
	if snap.SummaryInterval != time.Hour {
		t.Errorf("SummaryInterval = %v; want 1h", snap.SummaryInterval)
	}
	if snap.EnrichmentRetryLimit != 3 {
		t.Errorf("EnrichmentRetryLimit = %d; want 3", snap.EnrichmentRetryLimit)
	}
	if snap.LLMBaseURL == "" || snap.LLMModel == "" {
		t.Errorf("LLM defaults missing: %q / %q", snap.LLMBaseURL, snap.LLMModel)
	}
	if len(snap.Feeds) != 0 {
		t.Errorf("fresh database has %d feeds; want 0", len(snap.Feeds))
	}
}

func TestLoadReflectsSettingEdits(t *testing.T) {
	p, db := setupProvider(t)
	ctx := context.Background()

	if err := db.UpdateSetting(ctx, "enrichment_batch_size", "25", "int"); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}
	snap, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.EnrichmentBatchSize != 25 {
		t.Errorf("EnrichmentBatchSize = %d; want 25", snap.EnrichmentBatchSize)
	}
}

func TestSeedIsAdditiveOnly(t *testing.T) {
	p, db := setupProvider(t)
	ctx := context.Background()

	var s Settings
	s.Summarization.MaxArticles = 30
	s.LLM.Model = "file-model"
	s.Feeds = []FeedSeed{{URL: "http://example.com/feed.xml", IntervalSeconds: 120}}
	s.Profile.Title = "Seeded"
	s.Profile.Content = "A seeded audience profile from the settings file."

	// Operator has already edited the model through the dashboard
	if err := db.UpdateSetting(ctx, "llm_model", "operator-model", "string"); err != nil {
		t.Fatalf("UpdateSetting failed: %v", err)
	}

	if err := p.Seed(ctx, s); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	snap, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap.LLMModel != "operator-model" {
		t.Errorf("LLMModel = %s; file seed overwrote an operator edit", snap.LLMModel)
	}
	if snap.SummaryMaxArticles != 30 {
		t.Errorf("SummaryMaxArticles = %d; want 30 from seed", snap.SummaryMaxArticles)
	}
	if len(snap.Feeds) != 1 || snap.Feeds[0].Interval != 120*time.Second {
		t.Fatalf("seeded feeds = %+v; want one with 120s interval", snap.Feeds)
	}

	// Re-seeding an already-populated feeds table inserts nothing
	if err := p.Seed(ctx, s); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	snap, _ = p.Load(ctx)
	if len(snap.Feeds) != 1 {
		t.Errorf("re-seed duplicated feeds: %d", len(snap.Feeds))
	}

	profile, err := db.ActiveProfile(ctx)
	if err != nil {
		t.Fatalf("ActiveProfile failed: %v", err)
	}
	if profile.Title != "Seeded" {
		t.Errorf("profile = %s; want Seeded", profile.Title)
	}
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
feeds:
  - url: http://example.com/a.xml
    title: Feed A
    interval_seconds: 600
  - url: http://example.com/b.xml
    enabled: false
llm:
  base_url: http://localhost:11434
  model: llama3.1:8b
summarization:
  interval_seconds: 1800
  max_articles: 10
profile:
  title: Ops
  content: Security operations team tracking incidents.
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if len(s.Feeds) != 2 || s.Feeds[0].IntervalSeconds != 600 {
		t.Errorf("feeds = %+v", s.Feeds)
	}
	if s.Feeds[1].Enabled == nil || *s.Feeds[1].Enabled {
		t.Errorf("feed b should parse as explicitly disabled")
	}
	if s.Summarization.IntervalSeconds != 1800 {
		t.Errorf("summarization interval = %d; want 1800", s.Summarization.IntervalSeconds)
	}
	if s.Profile.Title != "Ops" {
		t.Errorf("profile title = %s", s.Profile.Title)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(s.Feeds) != 0 {
		t.Errorf("missing file produced feeds: %+v", s.Feeds)
	}
}

func TestGetConfigEnvOverrides(t *testing.T) {
	t.Setenv("NEWSDESK_PORT", "9090")
	t.Setenv("NEWSDESK_DB_PATH", "/tmp/x.db")
	t.Setenv("NEWSDESK_SETTINGS", "/tmp/s.yaml")

	c := GetConfig()
	if c.Port != 9090 || c.DBPath != "/tmp/x.db" || c.SettingsPath != "/tmp/s.yaml" {
		t.Errorf("GetConfig = %+v", c)
	}
	if c.GetAddress() != ":9090" {
		t.Errorf("GetAddress = %s", c.GetAddress())
	}
}
