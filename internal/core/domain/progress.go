package domain

// SyncStage is a state of the ingestion pipeline.
type SyncStage string

const (
	SyncStageIdle     SyncStage = "idle"
	SyncStageListing  SyncStage = "listing"
	SyncStageSyncing  SyncStage = "syncing"
	SyncStageComplete SyncStage = "complete"
)

// SyncProgress is reported by the ingestion pipeline after every state change.
type SyncProgress struct {
	Stage  SyncStage `json:"stage"`
	Queued int       `json:"queued"`
	Synced int       `json:"synced"`
	Failed int       `json:"failed"`
	Batch  int       `json:"batch"`
	Errors []string  `json:"errors,omitempty"`
}

// ItemStatus is the per-item state reported by the classification pipeline.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusClassifying ItemStatus = "classifying"
	ItemStatusCompleted   ItemStatus = "completed"
	ItemStatusFailed      ItemStatus = "failed"
)

// ItemProgress is a per-item status transition.
type ItemProgress struct {
	ItemID string
	Status ItemStatus
}
