package models

// SourceKind identifies how a supplier's price list is fetched and decoded.
type SourceKind string

const (
	SourceKindSheet     SourceKind = "sheet"
	SourceKindCSV       SourceKind = "csv"
	SourceKindExcelFile SourceKind = "excel_file"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindSheet, SourceKindCSV, SourceKindExcelFile:
		return true
	}
	return false
}

// ProductStatus is the canonical product lifecycle.
type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusActive   ProductStatus = "active"
	ProductStatusArchived ProductStatus = "archived"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredScheduled = "scheduled"
)

// ParsingLog levels per the error taxonomy: a row-level failure skips one
// row, a task-level failure aborts one supplier task.
const (
	ParsingLogLevelRow  = "row"
	ParsingLogLevelTask = "task"
)
