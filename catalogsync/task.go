package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
	"gorm.io/gorm"
)

// HandleParseSupplier ingests one supplier's price list: parse, normalize,
// match, upsert. Row failures are logged and skipped; structural failures
// abort the task. Either way the supplier is accounted for on the run, so
// a run never hangs on a broken source.
func (s *Service) HandleParseSupplier(ctx context.Context, msg TaskMessage) error {
	db := config.GetDB()
	ctx = utils.SetTaskIdInContext(ctx, msg.TaskId)
	ctx = utils.SetSupplierIdInContext(ctx, msg.SupplierId)

	var supplier models.Supplier
	if err := db.WithContext(ctx).First(&supplier, msg.SupplierId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.failSupplierTask(ctx, msg, supplier.Name, "supplier_not_found",
				fmt.Errorf("supplier %d does not exist", msg.SupplierId))
			return nil
		}
		return err
	}
	if !utils.DereferencePtr(supplier.IsActive, false) {
		s.failSupplierTask(ctx, msg, supplier.Name, "supplier_inactive",
			fmt.Errorf("supplier %d is inactive", msg.SupplierId))
		return nil
	}

	s.state.SupplierRunning(supplier.ID, supplier.Name)

	counts, err := s.ingestSupplier(ctx, db, supplier, msg)
	if err != nil {
		s.failSupplierTask(ctx, msg, supplier.Name, "source_failed", err)
		return nil
	}

	s.state.SupplierDone(supplier.ID, counts)
	s.accountSupplierOnRun(ctx, db, msg, counts, false)
	taskId, _ := utils.GetTaskIdFromContext(ctx)
	supplierId, _ := utils.GetSupplierIdFromContext(ctx)
	s.logger.WithFields(map[string]interface{}{
		"task_id":     taskId,
		"supplier_id": supplierId,
		"created":     counts.Created,
		"updated":     counts.Updated,
		"reviewed":    counts.Reviewed,
		"errors":      counts.Errors,
	}).Info("supplier ingest finished")
	return nil
}

func (s *Service) ingestSupplier(ctx context.Context, db *gorm.DB, supplier models.Supplier, msg TaskMessage) (TaskCounts, error) {
	var counts TaskCounts

	parser, err := ParserFor(supplier.SourceKind)
	if err != nil {
		return counts, err
	}
	rows, err := parser.Rows(ctx, supplier.SourceLocation)
	if err != nil {
		return counts, err
	}

	rowNumber := 1 // header is row 1
	for {
		row, ok, err := rows.Next()
		if err != nil {
			return counts, err
		}
		if !ok {
			break
		}
		rowNumber++

		rec, rowErr := NormalizeRow(row, rowNumber)
		if rowErr != nil {
			s.recordRowError(ctx, db, msg, supplier.ID, rowErr)
			counts.Errors++
			continue
		}

		decision, err := s.engine.Match(ctx, rec)
		if err != nil {
			return counts, fmt.Errorf("match row %d: %w", rowNumber, err)
		}

		outcome, err := ApplyIngest(ctx, db, supplier.ID, rec, decision)
		if errors.Is(err, ErrStorageConflict) {
			// Concurrent writer landed the same key first; one retry
			// resolves it by taking the update path.
			outcome, err = ApplyIngest(ctx, db, supplier.ID, rec, decision)
		}
		if err != nil {
			return counts, fmt.Errorf("upsert row %d: %w", rowNumber, err)
		}

		switch outcome {
		case OutcomeCreated:
			counts.Created++
		case OutcomeUpdated:
			counts.Updated++
		case OutcomeReviewed:
			counts.Reviewed++
		}
	}

	return counts, nil
}

func (s *Service) recordRowError(ctx context.Context, db *gorm.DB, msg TaskMessage, supplierId int, rowErr *RowError) {
	raw, _ := json.Marshal(rowErr.Raw)
	entry := models.ParsingLog{
		TaskId:         msg.TaskId,
		SupplierId:     &supplierId,
		Level:          models.ParsingLogLevelRow,
		ErrorCode:      rowErr.Code,
		Message:        rowErr.Message,
		RowNumber:      rowErr.RowNumber,
		RawPayloadJSON: raw,
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		config.LogError(s.logger, "catalogsync", "recordRowError", "persist parsing log", entry, err)
	}
}

// failSupplierTask records a task-level failure and still advances the
// run's supplier accounting.
func (s *Service) failSupplierTask(ctx context.Context, msg TaskMessage, name string, code string, cause error) {
	db := config.GetDB()
	supplierId := msg.SupplierId
	entry := models.ParsingLog{
		TaskId:     msg.TaskId,
		SupplierId: &supplierId,
		Level:      models.ParsingLogLevelTask,
		ErrorCode:  code,
		Message:    cause.Error(),
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		config.LogError(s.logger, "catalogsync", "failSupplierTask", "persist parsing log", entry, err)
	}

	s.state.SupplierRunning(supplierId, name)
	s.state.SupplierFailed(supplierId, cause.Error())
	s.accountSupplierOnRun(ctx, db, msg, TaskCounts{}, true)
}

// accountSupplierOnRun folds one finished supplier task into its SyncRun
// with atomic increments, and finalizes the run when this was the last
// outstanding supplier.
func (s *Service) accountSupplierOnRun(ctx context.Context, db *gorm.DB, msg TaskMessage, counts TaskCounts, failed bool) {
	run, err := s.currentRun(ctx, db)
	if err != nil {
		config.LogError(s.logger, "catalogsync", "accountSupplierOnRun", "locate sync run", msg, err)
		return
	}

	updates := map[string]interface{}{
		"supplier_done": gorm.Expr("supplier_done + 1"),
		"rows_created":  gorm.Expr("rows_created + ?", counts.Created),
		"rows_updated":  gorm.Expr("rows_updated + ?", counts.Updated),
		"rows_reviewed": gorm.Expr("rows_reviewed + ?", counts.Reviewed),
		"rows_failed":   gorm.Expr("rows_failed + ?", counts.Errors),
	}
	if failed {
		updates["error_count"] = gorm.Expr("error_count + 1")
	} else if counts.Errors > 0 {
		updates["error_count"] = gorm.Expr("error_count + ?", counts.Errors)
	}
	if err := db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", run.ID).Updates(updates).Error; err != nil {
		config.LogError(s.logger, "catalogsync", "accountSupplierOnRun", "increment counters", msg, err)
		return
	}

	var fresh models.SyncRun
	if err := db.WithContext(ctx).First(&fresh, run.ID).Error; err != nil {
		return
	}
	if fresh.SupplierDone >= fresh.SupplierTotal && fresh.Status == models.SyncRunStatusRunning {
		s.finalizeRun(ctx, db, &fresh)
	}
}

func (s *Service) finalizeRun(ctx context.Context, db *gorm.DB, run *models.SyncRun) {
	status := models.SyncRunStatusSuccess
	if run.ErrorCount > 0 {
		status = models.SyncRunStatusPartial
	}
	if run.SupplierTotal > 0 && run.RowsCreated+run.RowsUpdated+run.RowsReviewed == 0 && run.ErrorCount > 0 {
		status = models.SyncRunStatusFailed
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": &now,
	}
	if run.StartedAt != nil {
		updates["duration_ms"] = now.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", run.ID, models.SyncRunStatusRunning).
		Updates(updates).Error; err != nil {
		config.LogError(s.logger, "catalogsync", "finalizeRun", "finalize sync run", run.TaskId, err)
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"task_id": run.TaskId,
		"status":  status,
	}).Info("sync run finished")
}

// currentRun resolves the SyncRun a supplier task belongs to. Supplier task
// payloads carry only their own task id, so the run comes from the state's
// master task id. No guessing beyond that: once the state has moved on (a
// newer run may legally be active while a late task finishes), crediting
// "the newest running run" would corrupt another run's counters, so the
// caller logs the orphaned completion instead.
func (s *Service) currentRun(ctx context.Context, db *gorm.DB) (*models.SyncRun, error) {
	taskId := s.state.RunTaskId()
	if taskId == "" {
		return nil, errors.New("no active sync run in state")
	}
	var run models.SyncRun
	if err := db.WithContext(ctx).Where("task_id = ?", taskId).First(&run).Error; err != nil {
		return nil, fmt.Errorf("load sync run %s: %w", taskId, err)
	}
	return &run, nil
}
