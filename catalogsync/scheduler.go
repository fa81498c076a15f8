package catalogsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
)

// StartScheduler triggers a master sync every SYNC_INTERVAL_HOURS
// (default 6) until the context is cancelled. A tick that finds a sync
// already running is skipped; the next tick tries again.
func (s *Service) StartScheduler(ctx context.Context) {
	interval := time.Duration(utils.IntFromEnv("SYNC_INTERVAL_HOURS", 6)) * time.Hour
	s.state.SetNextScheduledAt(time.Now().Add(interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.state.SetNextScheduledAt(time.Now().Add(interval))
				_, err := s.TriggerMasterSync(ctx, models.SyncTriggeredScheduled)
				if errors.Is(err, ErrSyncAlreadyRunning) {
					s.logger.Info("scheduled sync skipped, a sync is already running")
					continue
				}
				if err != nil {
					config.LogError(s.logger, "catalogsync", "StartScheduler", "trigger scheduled sync", nil, err)
				}
			}
		}
	}()
}
