package catalogsync

import (
	"sort"
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseAcquiringLock       Phase = "acquiring_lock"
	PhaseSyncingMaster       Phase = "syncing_master"
	PhaseProcessingSuppliers Phase = "processing_suppliers"
)

type SupplierState string

const (
	SupplierStatePending SupplierState = "pending"
	SupplierStateRunning SupplierState = "running"
	SupplierStateSuccess SupplierState = "success"
	SupplierStateError   SupplierState = "error"
)

// TaskCounts aggregates per-row outcomes of one supplier task.
type TaskCounts struct {
	Created  int
	Updated  int
	Reviewed int
	Errors   int
}

type supplierProgress struct {
	SupplierId int
	Name       string
	State      SupplierState
	Counts     TaskCounts
	Message    string
}

// SyncState is the process-wide, externally visible sync status. It is
// ephemeral: created at process start with phase idle and rebuilt from
// idle on restart. All mutations go through methods holding the lock;
// readers only ever see Snapshot copies.
type SyncState struct {
	mu              sync.RWMutex
	phase           Phase
	runTaskId       string
	totalSuppliers  int
	doneSuppliers   int
	lastSyncAt      *time.Time
	nextScheduledAt *time.Time
	suppliers       map[int]*supplierProgress
}

func NewSyncState() *SyncState {
	return &SyncState{
		phase:     PhaseIdle,
		suppliers: map[int]*supplierProgress{},
	}
}

func (s *SyncState) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// BeginRun resets per-run progress when a master sync starts.
func (s *SyncState) BeginRun(taskId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseSyncingMaster
	s.runTaskId = taskId
	s.totalSuppliers = 0
	s.doneSuppliers = 0
	s.suppliers = map[int]*supplierProgress{}
}

func (s *SyncState) RunTaskId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runTaskId
}

func (s *SyncState) SupplierQueued(supplierId int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppliers[supplierId] = &supplierProgress{
		SupplierId: supplierId,
		Name:       name,
		State:      SupplierStatePending,
	}
	s.totalSuppliers++
}

func (s *SyncState) SupplierRunning(supplierId int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.suppliers[supplierId]
	if sp == nil {
		sp = &supplierProgress{SupplierId: supplierId, Name: name}
		s.suppliers[supplierId] = sp
		s.totalSuppliers++
	}
	sp.State = SupplierStateRunning
}

func (s *SyncState) SupplierDone(supplierId int, counts TaskCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.suppliers[supplierId]
	if sp == nil {
		return
	}
	sp.State = SupplierStateSuccess
	sp.Counts = counts
	s.doneSuppliers++
	if s.doneSuppliers >= s.totalSuppliers {
		s.phase = PhaseIdle
		now := time.Now()
		s.lastSyncAt = &now
	}
}

func (s *SyncState) SupplierFailed(supplierId int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp := s.suppliers[supplierId]
	if sp == nil {
		return
	}
	sp.State = SupplierStateError
	sp.Message = message
	s.doneSuppliers++
	if s.doneSuppliers >= s.totalSuppliers {
		s.phase = PhaseIdle
		now := time.Now()
		s.lastSyncAt = &now
	}
}

// RunFailed resets the state machine to idle after an unrecoverable
// master-sync error.
func (s *SyncState) RunFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
}

func (s *SyncState) SetLastSyncAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncAt = &t
}

func (s *SyncState) SetNextScheduledAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScheduledAt = &t
}

// StateSnapshot is a point-in-time copy, safe to serialize while the sync
// keeps running.
type StateSnapshot struct {
	Phase           Phase
	TotalSuppliers  int
	DoneSuppliers   int
	LastSyncAt      *time.Time
	NextScheduledAt *time.Time
	Suppliers       []SupplierStatusResponse
}

func (s *SyncState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{
		Phase:          s.phase,
		TotalSuppliers: s.totalSuppliers,
		DoneSuppliers:  s.doneSuppliers,
	}
	if s.lastSyncAt != nil {
		t := *s.lastSyncAt
		snap.LastSyncAt = &t
	}
	if s.nextScheduledAt != nil {
		t := *s.nextScheduledAt
		snap.NextScheduledAt = &t
	}
	for _, sp := range s.suppliers {
		snap.Suppliers = append(snap.Suppliers, SupplierStatusResponse{
			SupplierId: sp.SupplierId,
			Name:       sp.Name,
			State:      string(sp.State),
			Created:    sp.Counts.Created,
			Updated:    sp.Counts.Updated,
			Reviewed:   sp.Counts.Reviewed,
			Errors:     sp.Counts.Errors,
			Message:    sp.Message,
		})
	}
	sort.Slice(snap.Suppliers, func(i, j int) bool {
		return snap.Suppliers[i].SupplierId < snap.Suppliers[j].SupplierId
	})
	return snap
}
