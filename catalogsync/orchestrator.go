package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrSyncAlreadyRunning is returned when a trigger finds the master lock
// already held by another run.
var ErrSyncAlreadyRunning = errors.New("a catalog sync is already running")

const masterLockKey = "catalog:sync:master"

// Service owns the sync workflow: trigger, master reconciliation, supplier
// fan-out and the shared status state.
type Service struct {
	state  *SyncState
	locker SyncLocker
	engine *Engine
	logger *logrus.Logger

	publish func(ctx context.Context, msg TaskMessage) error
}

func NewService(state *SyncState, locker SyncLocker, engine *Engine, logger *logrus.Logger) *Service {
	return &Service{
		state:   state,
		locker:  locker,
		engine:  engine,
		logger:  logger,
		publish: PublishTask,
	}
}

func (s *Service) State() *SyncState { return s.state }

func lockTTL() time.Duration {
	return time.Duration(utils.IntFromEnv("SYNC_LOCK_TTL_SECONDS", 120)) * time.Second
}

// TriggerMasterSync starts a new sync run. The master lock is taken
// synchronously, with the run's task id as owner token, so a concurrent
// trigger fails fast with ErrSyncAlreadyRunning instead of queueing a
// duplicate run. The actual work happens on the queue worker.
func (s *Service) TriggerMasterSync(ctx context.Context, triggeredBy string) (string, error) {
	taskId := uuid.NewString()

	ok, err := s.locker.Acquire(ctx, masterLockKey, taskId, lockTTL())
	if err != nil {
		return "", fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return "", ErrSyncAlreadyRunning
	}

	db := config.GetDB()
	run := models.SyncRun{
		TaskId:      taskId,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		_ = s.locker.Release(ctx, masterLockKey, taskId)
		return "", fmt.Errorf("create sync run: %w", err)
	}

	now := time.Now()
	msg := TaskMessage{
		TaskId:      taskId,
		Kind:        TaskKindTriggerMasterSync,
		TriggeredBy: triggeredBy,
		TriggeredAt: &now,
	}
	if err := s.publish(ctx, msg); err != nil {
		db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
			"status": models.SyncRunStatusFailed,
		})
		_ = s.locker.Release(ctx, masterLockKey, taskId)
		return "", fmt.Errorf("publish sync task: %w", err)
	}

	s.state.SetPhase(PhaseAcquiringLock)
	s.logger.WithFields(logrus.Fields{
		"task_id":      taskId,
		"triggered_by": triggeredBy,
	}).Info("master sync queued")
	return taskId, nil
}

// HandleMasterSync is the queue worker for trigger_master_sync: reconcile
// the supplier registry from the master source, then fan out one
// parse_supplier task per active supplier. Redeliveries of a finished run
// are no-ops.
func (s *Service) HandleMasterSync(ctx context.Context, msg TaskMessage) error {
	db := config.GetDB()
	ctx = utils.SetTaskIdInContext(ctx, msg.TaskId)

	var run models.SyncRun
	if err := db.WithContext(ctx).Where("task_id = ?", msg.TaskId).First(&run).Error; err != nil {
		return fmt.Errorf("load sync run %s: %w", msg.TaskId, err)
	}
	if run.Status != models.SyncRunStatusQueued {
		s.logger.WithField("task_id", msg.TaskId).Info("sync run already processed, skipping redelivery")
		return nil
	}

	// The trigger took the lock with this task id as token. After a crash
	// and redelivery the TTL may have let it lapse; retake it before
	// touching the registry.
	if err := s.locker.Extend(ctx, masterLockKey, msg.TaskId, lockTTL()); err != nil {
		ok, aerr := s.locker.Acquire(ctx, masterLockKey, msg.TaskId, lockTTL())
		if aerr != nil {
			return fmt.Errorf("reacquire sync lock: %w", aerr)
		}
		if !ok {
			return ErrSyncAlreadyRunning
		}
	}
	stopKeepalive := s.startLockKeepalive(ctx, msg.TaskId)

	s.state.BeginRun(msg.TaskId)
	now := time.Now()
	db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": &now,
	})

	err := s.runMasterSync(ctx, db, msg.TaskId)

	stopKeepalive()
	if rerr := s.locker.Release(ctx, masterLockKey, msg.TaskId); rerr != nil && !errors.Is(rerr, ErrNotLockOwner) {
		config.LogError(s.logger, "catalogsync", "HandleMasterSync", "release sync lock", msg.TaskId, rerr)
	}

	if err != nil {
		s.failRun(ctx, db, msg, err)
		return nil
	}
	return nil
}

// startLockKeepalive extends the master lock at a third of its TTL until
// stopped, so a long reconciliation outlives the initial lease while a
// crashed process still frees the lock within one TTL.
// keepaliveInterval is a third of the TTL, floored so a tiny configured
// TTL can never produce a zero ticker interval.
func keepaliveInterval(ttl time.Duration) time.Duration {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (s *Service) startLockKeepalive(ctx context.Context, token string) func() {
	done := make(chan struct{})
	ttl := lockTTL()
	go func() {
		ticker := time.NewTicker(keepaliveInterval(ttl))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.locker.Extend(ctx, masterLockKey, token, ttl); err != nil {
					config.LogError(s.logger, "catalogsync", "startLockKeepalive", "extend sync lock", token, err)
					return
				}
			}
		}
	}()
	var once func()
	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}

func (s *Service) runMasterSync(ctx context.Context, db *gorm.DB, taskId string) error {
	rows, err := s.readMasterSource(ctx)
	if err != nil {
		return fmt.Errorf("read master source: %w", err)
	}

	var existing []models.Supplier
	if err := db.WithContext(ctx).Find(&existing).Error; err != nil {
		return fmt.Errorf("load suppliers: %w", err)
	}

	plan := BuildReconcilePlan(existing, rows)
	if err := s.applyReconcilePlan(ctx, db, plan); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"task_id":     taskId,
		"created":     len(plan.Create),
		"updated":     len(plan.Update),
		"deactivated": len(plan.Deactivate),
	}).Info("supplier registry reconciled")

	s.state.SetPhase(PhaseProcessingSuppliers)

	var active []models.Supplier
	if err := db.WithContext(ctx).Where("is_active = ?", true).Find(&active).Error; err != nil {
		return fmt.Errorf("load active suppliers: %w", err)
	}

	if err := db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("task_id = ?", taskId).
		Update("supplier_total", len(active)).Error; err != nil {
		return fmt.Errorf("set supplier total: %w", err)
	}

	if len(active) == 0 {
		now := time.Now()
		db.WithContext(ctx).Model(&models.SyncRun{}).
			Where("task_id = ?", taskId).
			Updates(map[string]interface{}{
				"status":      models.SyncRunStatusSuccess,
				"finished_at": &now,
			})
		s.state.SetPhase(PhaseIdle)
		s.state.SetLastSyncAt(now)
		return nil
	}

	for _, supplier := range active {
		s.state.SupplierQueued(supplier.ID, supplier.Name)
	}
	for _, supplier := range active {
		task := TaskMessage{
			TaskId:     uuid.NewString(),
			Kind:       TaskKindParseSupplier,
			SupplierId: supplier.ID,
		}
		if err := s.publish(ctx, task); err != nil {
			// Already-queued suppliers keep running; account the rest as
			// failed so the run still terminates.
			s.failSupplierTask(ctx, task, supplier.Name, "publish_failed", err)
			config.LogError(s.logger, "catalogsync", "runMasterSync", "publish supplier task", supplier.ID, err)
		}
	}
	return nil
}

func (s *Service) failRun(ctx context.Context, db *gorm.DB, msg TaskMessage, cause error) {
	entry := models.ParsingLog{
		TaskId:    msg.TaskId,
		Level:     models.ParsingLogLevelTask,
		ErrorCode: "master_sync_failed",
		Message:   cause.Error(),
	}
	_ = db.WithContext(ctx).Create(&entry).Error

	now := time.Now()
	db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("task_id = ?", msg.TaskId).
		Updates(map[string]interface{}{
			"status":      models.SyncRunStatusFailed,
			"finished_at": &now,
			"error_count": gorm.Expr("error_count + 1"),
		})
	s.state.RunFailed()
	config.LogError(s.logger, "catalogsync", "HandleMasterSync", "master sync failed", msg.TaskId, cause)
}

// MasterSupplierRow is one supplier definition from the master source.
type MasterSupplierRow struct {
	Name           string
	SourceKind     models.SourceKind
	SourceLocation string
	Metadata       map[string]string
}

// readMasterSource parses the master configuration document through the
// same parser registry supplier sources use. MASTER_SOURCE_KIND and
// MASTER_SOURCE_LOCATION select the document.
func (s *Service) readMasterSource(ctx context.Context) ([]MasterSupplierRow, error) {
	kind := models.SourceKind(strings.TrimSpace(os.Getenv("MASTER_SOURCE_KIND")))
	location := strings.TrimSpace(os.Getenv("MASTER_SOURCE_LOCATION"))
	if !kind.Valid() || location == "" {
		return nil, errors.New("MASTER_SOURCE_KIND and MASTER_SOURCE_LOCATION must be configured")
	}

	parser, err := ParserFor(kind)
	if err != nil {
		return nil, err
	}
	iterator, err := parser.Rows(ctx, location)
	if err != nil {
		return nil, err
	}

	var out []MasterSupplierRow
	rowNumber := 1
	for {
		row, ok, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rowNumber++
		parsed, err := parseMasterRow(row)
		if err != nil {
			return nil, fmt.Errorf("master row %d: %w", rowNumber, err)
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return nil, errors.New("master source lists no suppliers")
	}
	return out, nil
}

func parseMasterRow(row RawRow) (MasterSupplierRow, error) {
	parsed := MasterSupplierRow{
		Name:           collapseWhitespace(row["name"]),
		SourceKind:     models.SourceKind(strings.ToLower(strings.TrimSpace(pickColumn(row, []string{"source_kind", "kind", "type"})))),
		SourceLocation: strings.TrimSpace(pickColumn(row, []string{"source_location", "location", "url"})),
		Metadata:       map[string]string{},
	}
	if parsed.Name == "" {
		return parsed, errors.New("missing supplier name")
	}
	if !parsed.SourceKind.Valid() {
		return parsed, fmt.Errorf("unknown source kind %q", row["source_kind"])
	}
	if parsed.SourceLocation == "" {
		return parsed, errors.New("missing source location")
	}
	for label, value := range row {
		switch label {
		case "name", "source_kind", "kind", "type", "source_location", "location", "url":
		default:
			if value != "" {
				parsed.Metadata[label] = value
			}
		}
	}
	return parsed, nil
}

// ReconcilePlan is the diff between the supplier registry and the master
// source, keyed by supplier name.
type ReconcilePlan struct {
	Create     []MasterSupplierRow
	Update     map[int]MasterSupplierRow // supplier id -> desired state
	Deactivate []int                     // supplier ids
}

// BuildReconcilePlan computes the registry changes for one master sync.
// Names present only in the source are created, names present in both are
// updated (including reactivation), names absent from the source are
// deactivated. Applying the plan twice is a no-op.
func BuildReconcilePlan(existing []models.Supplier, rows []MasterSupplierRow) ReconcilePlan {
	plan := ReconcilePlan{Update: map[int]MasterSupplierRow{}}

	byName := make(map[string]models.Supplier, len(existing))
	for _, supplier := range existing {
		byName[foldName(supplier.Name)] = supplier
	}

	seen := map[string]bool{}
	for _, row := range rows {
		key := foldName(row.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if current, ok := byName[key]; ok {
			plan.Update[current.ID] = row
		} else {
			plan.Create = append(plan.Create, row)
		}
	}

	for key, supplier := range byName {
		if !seen[key] && utils.DereferencePtr(supplier.IsActive, false) {
			plan.Deactivate = append(plan.Deactivate, supplier.ID)
		}
	}
	return plan
}

func (s *Service) applyReconcilePlan(ctx context.Context, db *gorm.DB, plan ReconcilePlan) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range plan.Create {
			metadata, _ := json.Marshal(row.Metadata)
			supplier := models.Supplier{
				Name:           row.Name,
				SourceKind:     row.SourceKind,
				SourceLocation: row.SourceLocation,
				MetadataJSON:   metadata,
				IsActive:       utils.NewTrue(),
			}
			if err := tx.Create(&supplier).Error; err != nil {
				return fmt.Errorf("create supplier %s: %w", row.Name, err)
			}
		}
		for id, row := range plan.Update {
			metadata, _ := json.Marshal(row.Metadata)
			err := tx.Model(&models.Supplier{}).Where("id = ?", id).
				Updates(map[string]interface{}{
					"source_kind":     row.SourceKind,
					"source_location": row.SourceLocation,
					"metadata_json":   metadata,
					"is_active":       true,
				}).Error
			if err != nil {
				return fmt.Errorf("update supplier %d: %w", id, err)
			}
		}
		if len(plan.Deactivate) > 0 {
			err := tx.Model(&models.Supplier{}).Where("id IN ?", plan.Deactivate).
				Update("is_active", false).Error
			if err != nil {
				return fmt.Errorf("deactivate suppliers: %w", err)
			}
		}
		return nil
	})
}
