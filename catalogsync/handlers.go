package catalogsync

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const statusCacheKey = "catalog:sync:status"

// StatusHandler serves the live sync status: phase, per-supplier progress,
// recent failures, last and next sync times.
func StatusHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.State().Snapshot()
		db := config.GetDB()

		// Idle snapshots only change when a new run starts, so they are
		// served from Redis for a few seconds; active runs always render
		// live progress.
		if snap.Phase == PhaseIdle {
			var cached StatusResponse
			if found, err := config.GetRedisObject(statusCacheKey, &cached); err == nil && found {
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		resp := StatusResponse{
			Phase: string(snap.Phase),
			Progress: ProgressResponse{
				Current: snap.DoneSuppliers,
				Total:   snap.TotalSuppliers,
			},
			Suppliers: snap.Suppliers,
		}
		if resp.Suppliers == nil {
			resp.Suppliers = []SupplierStatusResponse{}
		}

		lastSyncAt := snap.LastSyncAt
		if lastSyncAt == nil {
			// Process restarts drop the in-memory value; the newest
			// finished run still knows.
			var run models.SyncRun
			err := db.WithContext(c.Request.Context()).
				Where("finished_at IS NOT NULL").
				Order("finished_at DESC").First(&run).Error
			if err == nil {
				lastSyncAt = run.FinishedAt
			}
		}
		if lastSyncAt != nil {
			v := lastSyncAt.Format(time.RFC3339)
			resp.LastSyncAt = &v
		}
		if snap.NextScheduledAt != nil {
			v := snap.NextScheduledAt.Format(time.RFC3339)
			resp.NextScheduledAt = &v
		}

		var logs []models.ParsingLog
		db.WithContext(c.Request.Context()).
			Order("id DESC").Limit(20).Find(&logs)
		resp.RecentLogs = make([]ParsingLogResponse, 0, len(logs))
		for _, entry := range logs {
			resp.RecentLogs = append(resp.RecentLogs, toParsingLogResponse(entry))
		}

		if snap.Phase == PhaseIdle {
			ttl := time.Duration(utils.IntFromEnv("SYNC_STATUS_CACHE_SECONDS", 3)) * time.Second
			_ = config.SetRedisObject(statusCacheKey, resp, ttl)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// TriggerSyncHandler starts a manual sync. Responds 202 with the run's
// task id, or 409 when a sync is already in progress.
func TriggerSyncHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskId, err := s.TriggerMasterSync(c.Request.Context(), models.SyncTriggeredManual)
		if errors.Is(err, ErrSyncAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "catalogsync", "TriggerSyncHandler", "trigger sync", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sync"})
			return
		}
		_ = config.RemoveRedisKey(statusCacheKey)
		c.JSON(http.StatusAccepted, gin.H{"taskId": taskId})
	}
}

// LogsHandler lists parsing-log entries, newest first. Filters: taskId,
// supplierId, level; limit defaults to 100.
func LogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := config.GetDB().WithContext(c.Request.Context()).Model(&models.ParsingLog{})

		if taskId := c.Query("taskId"); taskId != "" {
			query = query.Where("task_id = ?", taskId)
		}
		if supplierId := c.Query("supplierId"); supplierId != "" {
			id, err := strconv.Atoi(supplierId)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "supplierId must be an integer"})
				return
			}
			query = query.Where("supplier_id = ?", id)
		}
		if level := c.Query("level"); level != "" {
			query = query.Where("level = ?", level)
		}

		limit := 100
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		var logs []models.ParsingLog
		if err := query.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
			return
		}

		items := make([]ParsingLogResponse, 0, len(logs))
		for _, entry := range logs {
			items = append(items, toParsingLogResponse(entry))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// SyncHistoryHandler lists past sync runs, newest first.
func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		var runs []models.SyncRun
		err := config.GetDB().WithContext(c.Request.Context()).
			Order("id DESC").Limit(limit).Find(&runs).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync history"})
			return
		}

		resp := SyncHistoryResponse{Items: make([]SyncRunResponse, 0, len(runs))}
		for _, run := range runs {
			resp.Items = append(resp.Items, toSyncRunResponse(run))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// SyncRunDetailHandler serves one sync run with its parsing logs.
func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run id must be an integer"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.First(&run, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync run"})
			return
		}

		var logs []models.ParsingLog
		db.Where("task_id = ?", run.TaskId).Order("id ASC").Find(&logs)
		logItems := make([]ParsingLogResponse, 0, len(logs))
		for _, entry := range logs {
			logItems = append(logItems, toParsingLogResponse(entry))
		}

		c.JSON(http.StatusOK, gin.H{
			"run":  toSyncRunResponse(run),
			"logs": logItems,
		})
	}
}

// ResolveReviewHandler resolves one pending match review: link the
// supplier item to the chosen product, or create a new product for it.
// The review entry is removed either way.
func ResolveReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewId, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "review id must be an integer"})
			return
		}

		var req ResolveReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.CreateNew && req.ProductId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "productId or createNew is required"})
			return
		}

		db := config.GetDB()
		var item models.SupplierItem
		err = db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var entry models.MatchReviewEntry
			if err := tx.First(&entry, reviewId).Error; err != nil {
				return err
			}
			if err := tx.First(&item, entry.SupplierItemId).Error; err != nil {
				return err
			}

			productId := req.ProductId
			if req.CreateNew {
				var chars map[string]string
				_ = json.Unmarshal(item.CharacteristicsJSON, &chars)
				product, err := createProduct(tx, IngestRecord{
					Sku:             item.SupplierSku,
					Name:            item.Name,
					Characteristics: chars,
				})
				if err != nil {
					return err
				}
				productId = product.ID
			} else {
				var product models.Product
				if err := tx.First(&product, productId).Error; err != nil {
					return err
				}
			}

			if err := tx.Model(&item).Update("product_id", productId).Error; err != nil {
				return err
			}
			item.ProductId = &productId
			return tx.Delete(&entry).Error
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "review entry or product not found"})
				return
			}
			config.LogError(config.GetLogger(), "catalogsync", "ResolveReviewHandler", "resolve review", reviewId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve review"})
			return
		}

		c.JSON(http.StatusOK, item)
	}
}

// ReviewListHandler lists pending match reviews, oldest first.
func ReviewListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var entries []models.MatchReviewEntry
		err := config.GetDB().WithContext(c.Request.Context()).
			Order("id ASC").Find(&entries).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reviews"})
			return
		}
		items := make([]ReviewEntryResponse, 0, len(entries))
		for _, entry := range entries {
			items = append(items, toReviewResponse(entry))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func toReviewResponse(entry models.MatchReviewEntry) ReviewEntryResponse {
	resp := ReviewEntryResponse{
		ID:             entry.ID,
		SupplierItemId: entry.SupplierItemId,
		Candidates:     []models.ReviewCandidate{},
		CreatedAt:      entry.CreatedAt.Format(time.RFC3339),
	}
	if len(entry.CandidatesJSON) > 0 {
		var candidates []models.ReviewCandidate
		if err := utils.UnmarshalFromJSON(entry.CandidatesJSON, &candidates); err == nil {
			resp.Candidates = candidates
		}
	}
	return resp
}

// PubSubPushHandler consumes push deliveries from the task subscription.
// Malformed envelopes are acknowledged and dropped; handler failures are
// retried by the dispatcher and recorded when exhausted, so the response
// is 200 either way and Pub/Sub level redelivery only covers transport
// problems.
func PubSubPushHandler(d *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var envelope PubSubPushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(config.GetLogger(), "catalogsync", "PubSubPushHandler", "decode envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg TaskMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.Kind == "" {
			config.LogError(config.GetLogger(), "catalogsync", "PubSubPushHandler", "decode task message", string(envelope.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}

		if err := d.Dispatch(c.Request.Context(), msg); err != nil {
			config.LogError(config.GetLogger(), "catalogsync", "PubSubPushHandler", "dispatch task", msg, err)
		}
		c.Status(http.StatusOK)
	}
}

func toParsingLogResponse(entry models.ParsingLog) ParsingLogResponse {
	return ParsingLogResponse{
		ID:         entry.ID,
		TaskId:     entry.TaskId,
		SupplierId: entry.SupplierId,
		Level:      entry.Level,
		ErrorCode:  entry.ErrorCode,
		Message:    entry.Message,
		RowNumber:  entry.RowNumber,
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
	}
}

func toSyncRunResponse(run models.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:            run.ID,
		TaskId:        run.TaskId,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		SupplierTotal: run.SupplierTotal,
		SupplierDone:  run.SupplierDone,
		RowsCreated:   run.RowsCreated,
		RowsUpdated:   run.RowsUpdated,
		RowsReviewed:  run.RowsReviewed,
		RowsFailed:    run.RowsFailed,
		ErrorCount:    run.ErrorCount,
		DurationMs:    run.DurationMs,
	}
	if run.StartedAt != nil {
		v := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if run.FinishedAt != nil {
		v := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}
