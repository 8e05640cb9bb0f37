package config

import (
	"fmt"
	"os"
	"strings"
)

// ClientConfig contains resolved API client settings.
type ClientConfig struct {
	BaseURL     string
	AnonKey     string
	AccessToken string
	UserID      string
	Bucket      string
}

// ResolveClientConfig resolves connection settings from the stored account,
// applying environment and flag overrides in increasing precedence.
func ResolveClientConfig(baseURLOverride string) (ClientConfig, error) {
	var cfg ClientConfig

	if account, err := LoadAccount(); err == nil {
		cfg.BaseURL = account.BaseURL
		cfg.AnonKey = account.AnonKey
		cfg.AccessToken = account.AccessToken
		cfg.UserID = account.UserID
		cfg.Bucket = account.AttachmentBucket()
	}

	if envURL := strings.TrimSpace(os.Getenv("MOVINESTA_BASE_URL")); envURL != "" {
		cfg.BaseURL = strings.TrimSuffix(envURL, "/")
	}
	if baseURLOverride != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURLOverride, "/")
	}

	if cfg.BaseURL == "" {
		return ClientConfig{}, fmt.Errorf("base URL not configured (set MOVINESTA_BASE_URL, run 'movinesta auth login', or pass --base-url)")
	}
	if cfg.AnonKey == "" {
		return ClientConfig{}, fmt.Errorf("API key not configured (set MOVINESTA_ANON_KEY or run 'movinesta auth login')")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultAttachmentBucket
	}

	return cfg, nil
}
