package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// droppedTTL bounds how long dropped item records are kept.
const droppedTTL = 30 * 24 * time.Hour

// DroppedItem records an item the queue gave up on.
type DroppedItem struct {
	ID         string    `json:"id"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error"`
	DroppedAt  time.Time `json:"dropped_at"`
}

// AddDropped records a dropped item. The set is scored by drop time so
// listing returns the most recent first.
func (c *Client) AddDropped(ctx context.Context, ownerID string, item DroppedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dropped item: %w", err)
	}

	key := droppedKey(ownerID)
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(item.DroppedAt.Unix()), Member: data})
	pipe.Expire(ctx, key, droppedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add dropped item: %w", err)
	}
	return nil
}

// ListDropped returns up to limit dropped items, newest first.
func (c *Client) ListDropped(ctx context.Context, ownerID string, limit int) ([]DroppedItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := c.rdb.ZRevRange(ctx, droppedKey(ownerID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	items := make([]DroppedItem, 0, len(members))
	for _, m := range members {
		var item DroppedItem
		if err := json.Unmarshal([]byte(m), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// CountDropped returns the number of dropped items recorded for owner.
func (c *Client) CountDropped(ctx context.Context, ownerID string) (int, error) {
	n, err := c.rdb.ZCard(ctx, droppedKey(ownerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}

// ClearDropped removes every dropped item record for owner.
func (c *Client) ClearDropped(ctx context.Context, ownerID string) error {
	return c.rdb.Del(ctx, droppedKey(ownerID)).Err()
}
