package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/inboxsync/internal/core/domain"
)

// progressTTL keeps the last snapshot around for status queries.
const progressTTL = 7 * 24 * time.Hour

// ProgressSnapshot is the last reported progress of an owner's sync.
type ProgressSnapshot struct {
	domain.SyncProgress
	UpdatedAt time.Time `json:"updated_at"`
}

// SetProgress stores the latest progress for owner.
func (c *Client) SetProgress(ctx context.Context, ownerID string, p domain.SyncProgress, at time.Time) error {
	data, err := json.Marshal(ProgressSnapshot{SyncProgress: p, UpdatedAt: at})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := c.rdb.Set(ctx, progressKey(ownerID), data, progressTTL).Err(); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// GetProgress returns the last stored progress, or nil if there is none.
func (c *Client) GetProgress(ctx context.Context, ownerID string) (*ProgressSnapshot, error) {
	data, err := c.rdb.Get(ctx, progressKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var snap ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &snap, nil
}

// ClearProgress removes the stored progress.
func (c *Client) ClearProgress(ctx context.Context, ownerID string) error {
	return c.rdb.Del(ctx, progressKey(ownerID)).Err()
}
