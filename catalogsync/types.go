package catalogsync

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"github.com/shopspring/decimal"
)

// RawRow is one parsed source row: column label -> raw textual value.
// Labels are normalized (lower-cased, trimmed) by the parsers; missing
// optional cells are present as "".
type RawRow map[string]string

// IngestRecord is a validated, normalized supplier row ready for matching
// and upsert.
type IngestRecord struct {
	Sku             string
	Name            string
	Price           decimal.Decimal
	Characteristics map[string]string
	RowNumber       int
}

// RowError is a row-level validation failure. It never aborts the
// enclosing task; the task records it and continues with the next row.
type RowError struct {
	Code      string
	Message   string
	RowNumber int
	Raw       RawRow
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.RowNumber, e.Code, e.Message)
}

type DecisionKind string

const (
	DecisionAutoLink    DecisionKind = "auto_link"
	DecisionCreateNew   DecisionKind = "create_new"
	DecisionReviewQueue DecisionKind = "review_queue"
)

// Decision is the matching engine's verdict for one IngestRecord.
type Decision struct {
	Kind       DecisionKind
	ProductId  int                      // set for AutoLink
	Candidates []models.ReviewCandidate // set for ReviewQueue, best first
}

// Queue message kinds consumed from / produced to the task topic.
const (
	TaskKindTriggerMasterSync = "trigger_master_sync"
	TaskKindParseSupplier     = "parse_supplier"
)

// TaskMessage is the discriminated queue payload. Kind selects which of
// the optional fields are meaningful.
type TaskMessage struct {
	TaskId      string     `json:"task_id"`
	Kind        string     `json:"kind"`
	TriggeredBy string     `json:"triggered_by,omitempty"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	SupplierId  int        `json:"supplier_id,omitempty"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Status read contract types (consumed by the HTTP layer).

type StatusResponse struct {
	Phase           string                   `json:"phase"`
	Progress        ProgressResponse         `json:"progress"`
	LastSyncAt      *string                  `json:"lastSyncAt"`
	NextScheduledAt *string                  `json:"nextScheduledAt"`
	Suppliers       []SupplierStatusResponse `json:"suppliers"`
	RecentLogs      []ParsingLogResponse     `json:"recentLogs"`
}

type ProgressResponse struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type SupplierStatusResponse struct {
	SupplierId int    `json:"supplierId"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Reviewed   int    `json:"reviewed"`
	Errors     int    `json:"errors"`
	Message    string `json:"message,omitempty"`
}

type ParsingLogResponse struct {
	ID         int    `json:"id"`
	TaskId     string `json:"taskId"`
	SupplierId *int   `json:"supplierId"`
	Level      string `json:"level"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	RowNumber  int    `json:"rowNumber"`
	CreatedAt  string `json:"createdAt"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	TaskId        string  `json:"taskId"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggeredBy"`
	SupplierTotal int     `json:"supplierTotal"`
	SupplierDone  int     `json:"supplierDone"`
	RowsCreated   int     `json:"rowsCreated"`
	RowsUpdated   int     `json:"rowsUpdated"`
	RowsReviewed  int     `json:"rowsReviewed"`
	RowsFailed    int     `json:"rowsFailed"`
	ErrorCount    int     `json:"errorCount"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type ResolveReviewRequest struct {
	ProductId int  `json:"productId"`
	CreateNew bool `json:"createNew"`
}

type ReviewEntryResponse struct {
	ID             int                      `json:"id"`
	SupplierItemId int                      `json:"supplierItemId"`
	Candidates     []models.ReviewCandidate `json:"candidates"`
	CreatedAt      string                   `json:"createdAt"`
}
