package config

import (
	"time"

	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/indexing/labeler"
	"github.com/vietddude/inboxsync/internal/indexing/syncer"
	"github.com/vietddude/inboxsync/internal/indexing/throttle"
	"github.com/vietddude/inboxsync/internal/infra/classifier/gemini"
	redisclient "github.com/vietddude/inboxsync/internal/infra/redis"
	"github.com/vietddude/inboxsync/internal/infra/retry"
	"github.com/vietddude/inboxsync/internal/infra/source"
	"github.com/vietddude/inboxsync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"` // empty url = in-memory store
	Redis    redisclient.Config `yaml:"redis"`    // empty url = no run lock
	Source   source.Config      `yaml:"source"`
	Sync     SyncConfig         `yaml:"sync"`
	Classify ClassifyConfig     `yaml:"classify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// RetryConfig is the YAML form of retry.Config.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"multiplier"`
	Jitter            time.Duration `yaml:"jitter"`
}

// SyncConfig holds ingestion settings shared by every owner.
type SyncConfig struct {
	Owner      string          `yaml:"owner"`
	Owners     []string        `yaml:"owners"`
	Query      string          `yaml:"query"`
	Lookback   time.Duration   `yaml:"lookback"`
	SyncAll    bool            `yaml:"sync_all"`
	MaxItems   int             `yaml:"max_items"`
	BatchSize  int             `yaml:"batch_size"`
	StaleAfter time.Duration   `yaml:"stale_after"`
	Interval   time.Duration   `yaml:"interval"`  // daemon sync period
	Retention  time.Duration   `yaml:"retention"` // 0 keeps messages forever
	Retry      RetryConfig     `yaml:"retry"`
	Admission  throttle.Config `yaml:"admission"`
}

// ClassifyConfig holds classification settings.
type ClassifyConfig struct {
	Model        string                      `yaml:"model"`
	APIKey       string                      `yaml:"api_key"`
	BatchSize    int                         `yaml:"batch_size"` // unclassified messages per run
	CallTimeout  time.Duration               `yaml:"call_timeout"`
	MaxBodyRunes int                         `yaml:"max_body_runes"`
	Retry        RetryConfig                 `yaml:"retry"`
	Admission    throttle.Config             `yaml:"admission"`
	Categories   []domain.CategoryDefinition `yaml:"categories"`
}

// OwnerIDs returns the configured owners, Owner first, without duplicates.
func (c SyncConfig) OwnerIDs() []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, id := range append([]string{c.Owner}, c.Owners...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// PipelineConfig builds the sync pipeline configuration for owner.
func (c SyncConfig) PipelineConfig(owner string, pageSize int) syncer.Config {
	cfg := syncer.DefaultConfig(owner)
	cfg.Query = c.Query
	cfg.SyncAll = c.SyncAll
	cfg.MaxItems = c.MaxItems
	if c.Lookback > 0 {
		cfg.Lookback = c.Lookback
	}
	if pageSize > 0 {
		cfg.PageSize = pageSize
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.StaleAfter > 0 {
		cfg.StaleAfter = c.StaleAfter
	}
	cfg.Retry = c.Retry.apply(cfg.Retry)
	if c.Admission.Max > 0 {
		cfg.Admission = c.Admission
	}
	return cfg
}

// DriverConfig builds the classification driver configuration.
func (c ClassifyConfig) DriverConfig() labeler.Config {
	cfg := labeler.DefaultConfig()
	if c.CallTimeout > 0 {
		cfg.CallTimeout = c.CallTimeout
	}
	if c.MaxBodyRunes > 0 {
		cfg.MaxBodyRunes = c.MaxBodyRunes
	}
	cfg.Retry = c.Retry.apply(cfg.Retry)
	if c.Admission.Max > 0 {
		cfg.Admission = c.Admission
	}
	return cfg
}

// GeminiConfig returns the model client configuration.
func (c ClassifyConfig) GeminiConfig() gemini.Config {
	return gemini.Config{APIKey: c.APIKey, Model: c.Model}
}

// apply overlays the set fields of r on base.
func (r RetryConfig) apply(base retry.Config) retry.Config {
	if r.MaxRetries > 0 {
		base.MaxRetries = r.MaxRetries
	}
	if r.InitialBackoff > 0 {
		base.InitialBackoff = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		base.MaxBackoff = r.MaxBackoff
	}
	if r.BackoffMultiplier > 0 {
		base.BackoffMultiplier = r.BackoffMultiplier
	}
	if r.Jitter > 0 {
		base.Jitter = r.Jitter
	}
	return base
}
