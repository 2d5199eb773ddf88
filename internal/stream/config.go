package stream

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores connectivity information for the ingestion backend.
type Config struct {
	APIBaseURL   string
	AccountID    string
	APIToken     string
	EmbedHost    string
	DeliveryHost string

	SubmitTimeout   time.Duration
	MetadataTimeout time.Duration

	Retry      RetryPolicy
	HTTPClient *http.Client
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		APIBaseURL:      strings.TrimSpace(os.Getenv("VODGATE_STREAM_API")),
		AccountID:       strings.TrimSpace(os.Getenv("VODGATE_STREAM_ACCOUNT_ID")),
		APIToken:        strings.TrimSpace(os.Getenv("VODGATE_STREAM_TOKEN")),
		EmbedHost:       strings.TrimSpace(os.Getenv("VODGATE_STREAM_EMBED_HOST")),
		DeliveryHost:    strings.TrimSpace(os.Getenv("VODGATE_STREAM_DELIVERY_HOST")),
		SubmitTimeout:   30 * time.Minute,
		MetadataTimeout: 30 * time.Second,
		Retry:           DefaultRetryPolicy(),
	}

	if timeout := strings.TrimSpace(os.Getenv("VODGATE_STREAM_SUBMIT_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse VODGATE_STREAM_SUBMIT_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.SubmitTimeout = parsed
		}
	}

	if timeout := strings.TrimSpace(os.Getenv("VODGATE_STREAM_METADATA_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse VODGATE_STREAM_METADATA_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.MetadataTimeout = parsed
		}
	}

	if attempts := strings.TrimSpace(os.Getenv("VODGATE_STREAM_MAX_ATTEMPTS")); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil {
			return Config{}, fmt.Errorf("parse VODGATE_STREAM_MAX_ATTEMPTS: %w", err)
		}
		if parsed > 0 {
			cfg.Retry.MaxAttempts = parsed
		}
	}

	if backoff := strings.TrimSpace(os.Getenv("VODGATE_STREAM_RETRY_BACKOFF")); backoff != "" {
		parsed, err := time.ParseDuration(backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse VODGATE_STREAM_RETRY_BACKOFF: %w", err)
		}
		if parsed > 0 {
			cfg.Retry.InitialBackoff = parsed
		}
	}

	if cfg.EmbedHost == "" {
		cfg.EmbedHost = "iframe.videodelivery.net"
	}
	if cfg.DeliveryHost == "" {
		cfg.DeliveryHost = "videodelivery.net"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("VODGATE_STREAM_API is required")
	}
	if c.AccountID == "" {
		return errors.New("VODGATE_STREAM_ACCOUNT_ID is required")
	}
	if c.APIToken == "" {
		return errors.New("VODGATE_STREAM_TOKEN is required")
	}
	if c.SubmitTimeout <= 0 {
		return errors.New("submit timeout must be positive")
	}
	if c.MetadataTimeout <= 0 {
		return errors.New("metadata timeout must be positive")
	}
	return nil
}

// Locators derives the playback URL helpers for this backend configuration.
func (c Config) Locators() Locators {
	embed := c.EmbedHost
	if embed == "" {
		embed = "iframe.videodelivery.net"
	}
	delivery := c.DeliveryHost
	if delivery == "" {
		delivery = "videodelivery.net"
	}
	return Locators{EmbedHost: embed, DeliveryHost: delivery}
}

func (c Config) accountURL() string {
	return fmt.Sprintf("%s/accounts/%s/stream", strings.TrimRight(c.APIBaseURL, "/"), c.AccountID)
}
