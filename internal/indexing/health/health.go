// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/inboxsync/internal/core/domain"
	"github.com/vietddude/inboxsync/internal/infra/source"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// OwnerHealth contains queue health for one owner.
type OwnerHealth struct {
	OwnerID string            `json:"owner_id"`
	Status  SystemStatus      `json:"status"`
	Queue   domain.QueueStats `json:"queue"`
	Dropped int               `json:"dropped"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Owners       map[string]OwnerHealth `json:"owners"`
	Source       *source.Stats          `json:"source,omitempty"`
}

// worst returns the more severe of a and b.
func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
