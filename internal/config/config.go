// Copyright (c) 2026 John Earle
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

// AccountConfig holds connection settings for a single mailbox account.
type AccountConfig struct {
	ID         string `yaml:"id"`
	IMAPHost   string `yaml:"imap_host"`
	IMAPPort   int    `yaml:"imap_port"`
	Encryption string `yaml:"encryption"` // "ssl", "tls" (STARTTLS) or "none"
	Auth       string `yaml:"auth"`       // "password" or "oauth2"
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`

	// OAuth2 client-credentials settings, used when auth is "oauth2".
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// Config holds all configuration for the sync service.
type Config struct {
	Accounts []AccountConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL    string
	EventsQueue string

	// Polling
	PollInterval time.Duration
	DialTimeout  time.Duration

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

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
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/crm")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:  firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "crm_events")),
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 5*time.Minute),
		DialTimeout:  envOrDefaultDuration("DIAL_TIMEOUT", 30*time.Second),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	for _, a := range raw.Accounts {
		// Skip accounts with empty credentials (commented out in YAML)
		if a.IMAPHost == "" || a.Username == "" {
			continue
		}

		if a.Encryption == "" {
			a.Encryption = "ssl"
		}
		if a.IMAPPort == 0 {
			if a.Encryption == "ssl" {
				a.IMAPPort = 993
			} else {
				a.IMAPPort = 143
			}
		}
		if a.Auth == "" {
			a.Auth = "password"
		}
		if a.ID == "" {
			a.ID = a.Username
		}

		if a.Auth == "oauth2" && (a.ClientID == "" || a.TokenURL == "") {
			return nil, fmt.Errorf("account %s: oauth2 auth requires client_id and token_url", a.ID)
		}

		cfg.Accounts = append(cfg.Accounts, a)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured — check config.yaml and environment variables")
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
