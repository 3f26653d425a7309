package display

import (
	"sync"
	"time"
)

// statusTracker accumulates SyncStatus from poll cycles and write results.
type statusTracker struct {
	mu     sync.RWMutex
	status SyncStatus
}

func (s *statusTracker) get() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *statusTracker) cycleSucceeded(at time.Time, readFailures int) SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.TotalCycles++
	s.status.LastCycleAt = at
	s.status.LastCycleOK = true
	s.status.LastSuccessAt = at
	s.status.ConsecutiveFailures = 0
	s.status.ReadFailures = readFailures
	return s.status
}

func (s *statusTracker) cycleFailed(at time.Time, err error) SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.TotalCycles++
	s.status.LastCycleAt = at
	s.status.LastCycleOK = false
	s.status.LastError = err.Error()
	s.status.LastErrorAt = at
	s.status.ConsecutiveFailures++
	s.status.ReadFailures = 0
	return s.status
}

func (s *statusTracker) writeFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.FailedWrites++
	s.status.LastWriteError = err.Error()
}
