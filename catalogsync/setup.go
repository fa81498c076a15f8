package catalogsync

import (
	"context"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
)

// Setup wires the sync service: matching policy, candidate source, lock
// backend and the task dispatcher. Invalid matching configuration fails
// here, at startup, not inside a run. SYNC_LOCK_BACKEND=memory selects the
// in-process lock for single-instance deployments; the default is Redis.
func Setup() (*Service, *Dispatcher, error) {
	matchCfg, err := config.LoadMatchConfig()
	if err != nil {
		return nil, nil, err
	}

	engine, err := NewEngine(matchCfg, LevenshteinScorer{}, NewCatalogCandidateSource(nil))
	if err != nil {
		return nil, nil, err
	}

	var locker SyncLocker
	if utils.EnvStringDefault("SYNC_LOCK_BACKEND", "redis") == "memory" {
		locker = NewMemoryLocker()
	} else {
		locker = NewRedisLocker(nil)
	}

	logger := config.GetLogger()
	service := NewService(NewSyncState(), locker, engine, logger)

	dispatcher := NewDispatcher(logger)
	dispatcher.Register(TaskKindTriggerMasterSync, service.HandleMasterSync)
	dispatcher.Register(TaskKindParseSupplier, service.HandleParseSupplier)
	dispatcher.SetExhaustedHook(func(msg TaskMessage, err error) {
		// The dispatcher already recorded the task-level log; here the
		// run accounting catches up so it still terminates.
		if msg.Kind != TaskKindParseSupplier || msg.SupplierId == 0 {
			return
		}
		ctx := context.Background()
		service.state.SupplierRunning(msg.SupplierId, "")
		service.state.SupplierFailed(msg.SupplierId, err.Error())
		service.accountSupplierOnRun(ctx, config.GetDB(), msg, TaskCounts{}, true)
	})

	return service, dispatcher, nil
}
