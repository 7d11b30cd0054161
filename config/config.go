// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials, use ValidateTwitterReady / ValidateTelegramReady.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Twitter/X application credentials (OAuth1 consumer pair)
	TwitterConsumerKey    string
	TwitterConsumerSecret string

	// Externally reachable base URL for the OAuth callback, e.g. https://bot.example.com
	CallbackBaseURL string

	// Telegram gateway
	TelegramBotToken    string
	TelegramBaseURL     string
	TelegramPollTimeout time.Duration

	// HTTP server
	HTTPAddr string

	// Database (optional; empty means the file-snapshot store is used)
	DBDsn string

	// Snapshot file for the in-memory store
	StateFile string

	// How long a pending authorization stays valid before the callback is rejected
	PendingTTL time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials
// are missing; use the Validate helpers when you require a feature. Missing optional
// variables disable features (e.g., DB_DSN empty keeps state in a local snapshot file).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitterConsumerKey = os.Getenv("TWITTER_CONSUMER_KEY")
	cfg.TwitterConsumerSecret = os.Getenv("TWITTER_CONSUMER_SECRET")
	cfg.CallbackBaseURL = strings.TrimRight(os.Getenv("CALLBACK_BASE_URL"), "/")

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramBaseURL = strings.TrimRight(os.Getenv("TELEGRAM_BASE_URL"), "/")
	if cfg.TelegramBaseURL == "" {
		cfg.TelegramBaseURL = "https://api.telegram.org"
	}
	cfg.TelegramPollTimeout = 30 * time.Second
	if v := os.Getenv("TELEGRAM_POLL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_POLL_TIMEOUT: %w", err)
		}
		cfg.TelegramPollTimeout = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.StateFile = os.Getenv("STATE_FILE")
	if cfg.StateFile == "" {
		cfg.StateFile = "data/state.bin"
	}

	cfg.PendingTTL = 15 * time.Minute
	if v := os.Getenv("PENDING_AUTH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PENDING_AUTH_TTL: %w", err)
		}
		cfg.PendingTTL = d
	}

	return cfg, nil
}

// ValidateTwitterReady checks required fields for the OAuth handshake and action dispatch.
func (c *Config) ValidateTwitterReady() error {
	if c.TwitterConsumerKey == "" || c.TwitterConsumerSecret == "" || c.CallbackBaseURL == "" {
		return fmt.Errorf("missing twitter env: require TWITTER_CONSUMER_KEY, TWITTER_CONSUMER_SECRET, CALLBACK_BASE_URL")
	}
	return nil
}

// ValidateTelegramReady checks required fields for the Telegram gateway.
func (c *Config) ValidateTelegramReady() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("missing telegram env: require TELEGRAM_BOT_TOKEN")
	}
	return nil
}
