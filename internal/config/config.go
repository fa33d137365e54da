// Copyright (c) 2026 Runway Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Retailer is a known purchase-confirmation sender.
type Retailer struct {
	Domain string `yaml:"domain"` // e.g. "walmart.com"
	Name   string `yaml:"name"`   // e.g. "Walmart"
}

// Config holds all configuration for the ingestion service.
type Config struct {
	Environment string // "production" disables dev test senders

	// Storage
	DatabaseURL string
	RedisURL    string

	// Mailbox provider (Google OAuth client used to mint Gmail clients
	// from stored per-identity tokens)
	GoogleClientID     string
	GoogleClientSecret string

	// Generative extraction/classification service
	GenAIAPIKey  string
	GenAIModel   string
	GenAIBaseURL string

	// Scanning
	Retailers    []Retailer
	DevSenders   []string // extra allowed senders outside production
	ScanLookback time.Duration
	ScanPageSize int64

	// Categorization
	CategorizeBatchSize int

	// HTTP server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Environment string     `yaml:"environment"`
	Retailers   []Retailer `yaml:"retailers"`
	DevSenders  []string   `yaml:"dev_senders"`
	Database    struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"google"`
	GenAI struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"genai"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Environment:         firstNonEmpty(raw.Environment, envOrDefault("ENVIRONMENT", "development")),
		DatabaseURL:         firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/runway")),
		RedisURL:            firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		GoogleClientID:      firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret:  firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
		GenAIAPIKey:         firstNonEmpty(raw.GenAI.APIKey, os.Getenv("GENAI_API_KEY")),
		GenAIModel:          firstNonEmpty(raw.GenAI.Model, envOrDefault("GENAI_MODEL", "gemini-1.5-flash")),
		GenAIBaseURL:        firstNonEmpty(raw.GenAI.BaseURL, envOrDefault("GENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")),
		ScanLookback:        envOrDefaultDuration("SCAN_LOOKBACK", 90*24*time.Hour),
		ScanPageSize:        int64(envOrDefaultInt("SCAN_PAGE_SIZE", 200)),
		CategorizeBatchSize: envOrDefaultInt("CATEGORIZE_BATCH_SIZE", 10),
		Port:                envOrDefaultInt("PORT", 8080),
	}

	for _, r := range raw.Retailers {
		if r.Domain == "" || r.Name == "" {
			continue
		}
		cfg.Retailers = append(cfg.Retailers, Retailer{
			Domain: strings.ToLower(strings.TrimSpace(r.Domain)),
			Name:   strings.TrimSpace(r.Name),
		})
	}
	if len(cfg.Retailers) == 0 {
		return nil, fmt.Errorf("no retailers configured in %s", configPath)
	}

	// Dev test senders are only honoured outside production.
	if cfg.Environment != "production" {
		for _, s := range raw.DevSenders {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				cfg.DevSenders = append(cfg.DevSenders, s)
			}
		}
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("missing Google OAuth client credentials")
	}
	if cfg.GenAIAPIKey == "" {
		return nil, fmt.Errorf("missing generative service API key")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
