// internal/config/environment.go
package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port         int
	DBPath       string
	SettingsPath string
}

func GetConfig() Config {
	config := Config{
		Port:         8080, // default port
		DBPath:       "data/newsdesk.db",
		SettingsPath: "settings.yaml",
	}

	// Override with environment variables if present
	if port := os.Getenv("NEWSDESK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	if dbPath := os.Getenv("NEWSDESK_DB_PATH"); dbPath != "" {
		config.DBPath = dbPath
	}

	if settingsPath := os.Getenv("NEWSDESK_SETTINGS"); settingsPath != "" {
		config.SettingsPath = settingsPath
	}

	return config
}

func (c Config) GetAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}
