package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("invalid config")
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Classify.Model == "" {
		c.Classify.Model = "gemini-2.0-flash"
	}
	if c.Classify.BatchSize == 0 {
		c.Classify.BatchSize = 100
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Classify.Categories))
	for i, cat := range c.Classify.Categories {
		if cat.ID == "" {
			return fmt.Errorf("%w: category %d has no id", ErrInvalidConfig, i)
		}
		if _, ok := seen[cat.ID]; ok {
			return fmt.Errorf("%w: duplicate category id %q", ErrInvalidConfig, cat.ID)
		}
		seen[cat.ID] = struct{}{}
	}

	switch c.Database.Driver {
	case "", "postgres", "pq", "pgx":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Sync.Admission.Max > 0 && c.Sync.Admission.Min > c.Sync.Admission.Max {
		return fmt.Errorf("%w: sync admission min > max", ErrInvalidConfig)
	}
	if c.Classify.Admission.Max > 0 && c.Classify.Admission.Min > c.Classify.Admission.Max {
		return fmt.Errorf("%w: classify admission min > max", ErrInvalidConfig)
	}
	return nil
}
