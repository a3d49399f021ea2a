// Package lifecycle tracks the phase a long-running server is in.
package lifecycle

import (
	"sync"
	"time"
)

type Phase string

const (
	Initializing Phase = "initializing"
	Starting     Phase = "starting"
	Running      Phase = "running"
	Stopping     Phase = "stopping"
	Stopped      Phase = "stopped"
	Failed       Phase = "failed"
)

// Status 使用 RWMutex 保护当前阶段及其变更时间。
type Status struct {
	mu      sync.RWMutex
	phase   Phase
	since   time.Time
	lastErr error
}

func New() *Status {
	return &Status{phase: Initializing, since: time.Now()}
}

// Set moves to phase. Setting the current phase again keeps the timestamp.
func (s *Status) Set(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phase {
		return
	}
	s.phase = phase
	s.since = time.Now()
}

// Fail moves to Failed and records err.
func (s *Status) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Failed
	s.since = time.Now()
	s.lastErr = err
}

func (s *Status) Get() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Snapshot returns the phase, when it was entered, and the error passed to
// the last Fail.
func (s *Status) Snapshot() (Phase, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.since, s.lastErr
}
