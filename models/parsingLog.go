package models

import (
	"time"
)

// ParsingLog records a row-level or task-level ingestion failure.
// Append-only; surfaced through the status read contract.
type ParsingLog struct {
	ID             int       `gorm:"primary_key" json:"id"`
	TaskId         string    `gorm:"size:64;index" json:"task_id"`
	SupplierId     *int      `gorm:"index" json:"supplier_id"`
	Level          string    `gorm:"size:10;not null" json:"level"`
	ErrorCode      string    `gorm:"size:64" json:"error_code"`
	Message        string    `gorm:"type:text" json:"message"`
	RowNumber      int       `json:"row_number"`
	RawPayloadJSON []byte    `gorm:"type:json" json:"raw_payload"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
