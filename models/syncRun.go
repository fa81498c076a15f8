package models

import (
	"time"
)

// SyncRun is the durable record of one master sync: who triggered it, how
// it ended, and the aggregated per-row counters. The ephemeral SyncState is
// rebuilt from idle on restart; last_sync_at in the status contract comes
// from the most recent finished run.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TaskId        string     `gorm:"size:64;index;not null" json:"task_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	SupplierTotal int        `json:"supplier_total"`
	SupplierDone  int        `json:"supplier_done"`
	RowsCreated   int        `json:"rows_created"`
	RowsUpdated   int        `json:"rows_updated"`
	RowsReviewed  int        `json:"rows_reviewed"`
	RowsFailed    int        `json:"rows_failed"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
