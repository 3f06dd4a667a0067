package domain

import "time"

// QueueStatus is the lifecycle state of a queued item.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusClaimed QueueStatus = "claimed"
	QueueStatusDone    QueueStatus = "done"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem is one unit of ingestion work, keyed by the remote id.
type QueueItem struct {
	NaturalID   string
	OwnerID     string
	Status      QueueStatus
	RetryCount  int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// QueueStats holds item counts per status.
type QueueStats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Total returns the number of rows across all statuses.
func (s QueueStats) Total() int {
	return s.Pending + s.Claimed + s.Done + s.Failed
}
