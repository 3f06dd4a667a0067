package syncer

import (
	"time"

	"github.com/vietddude/inboxsync/internal/core/queue"
	"github.com/vietddude/inboxsync/internal/indexing/throttle"
	"github.com/vietddude/inboxsync/internal/infra/retry"
)

// Config configures one owner's sync pipeline.
type Config struct {
	OwnerID    string
	Query      string        // base listing query
	Lookback   time.Duration // appended as after:YYYY/MM/DD unless SyncAll (default: 30d)
	SyncAll    bool
	MaxItems   int           // listing cap, 0 for unlimited
	PageSize   int           // ids requested per listing page (default: 100)
	BatchSize  int           // items claimed per batch (default: 50)
	StaleAfter time.Duration // claimed age reset by ResumeSync (default: 5m)
	Retry      retry.Config
	Admission  throttle.Config
}

// DefaultConfig returns the defaults for owner.
func DefaultConfig(owner string) Config {
	return Config{
		OwnerID:    owner,
		Lookback:   30 * 24 * time.Hour,
		PageSize:   100,
		BatchSize:  50,
		StaleAfter: queue.DefaultStaleAfter,
		Retry:      retry.DefaultConfig,
		Admission:  throttle.IngestionConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.OwnerID)
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry = def.Retry
	}
	if c.Admission.Max <= 0 {
		c.Admission = def.Admission
	}
	return c
}
