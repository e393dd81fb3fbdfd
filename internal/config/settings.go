// internal/config/settings.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the on-disk seed file. It is read once at startup: feeds and
// the profile are inserted only when the database has none, and setting keys
// are written only when absent. After that the database is the sole runtime
// authority and the file is never consulted again.
type Settings struct {
	Feeds []FeedSeed `yaml:"feeds"`

	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"llm"`

	Scheduler struct {
		TickSeconds       int `yaml:"tick_seconds"`
		ConfigPollSeconds int `yaml:"config_poll_seconds"`
	} `yaml:"scheduler"`

	Enrichment struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		BatchSize       int `yaml:"batch_size"`
		RetryLimit      int `yaml:"retry_limit"`
	} `yaml:"enrichment"`

	Summarization struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		WindowSeconds   int `yaml:"window_seconds"`
		MaxArticles     int `yaml:"max_articles"`
		CriticRetries   int `yaml:"critic_retries"`
	} `yaml:"summarization"`

	Profile struct {
		Title   string `yaml:"title"`
		Content string `yaml:"content"`
	} `yaml:"profile"`
}

// FeedSeed is one feed entry in the settings file
type FeedSeed struct {
	URL             string `yaml:"url"`
	Title           string `yaml:"title"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Enabled         *bool  `yaml:"enabled"`
}

// LoadSettings reads the YAML seed file. A missing file is not an error:
// the database defaults stand on their own.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	for i, f := range s.Feeds {
		if f.URL == "" {
			return s, fmt.Errorf("settings file %s: feed %d has no url", path, i)
		}
	}
	return s, nil
}
