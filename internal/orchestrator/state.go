package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunState — run, который выполняет этот процесс.
//
// RunState создаётся когда Orchestrator берёт run в работу
// и удаляется когда Coordinator доводит его до терминального статуса.
type RunState struct {
	RunID     uuid.UUID
	Pipeline  string
	Version   int
	StartedAt time.Time

	cancel context.CancelFunc

	mu              sync.Mutex
	cancelRequested bool
}

// NewRunState создаёт RunState. cancel отменяет контекст выполнения run.
func NewRunState(runID uuid.UUID, pipeline string, version int, cancel context.CancelFunc) *RunState {
	return &RunState{
		RunID:     runID,
		Pipeline:  pipeline,
		Version:   version,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
}

// Cancel запрашивает отмену run. Повторные вызовы ничего не делают.
func (s *RunState) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelRequested {
		return
	}
	s.cancelRequested = true
	s.cancel()
}

// CancelRequested возвращает true, если отмену уже запросили.
func (s *RunState) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// Info возвращает снимок состояния.
func (s *RunState) Info() RunInfo {
	return RunInfo{
		RunID:           s.RunID,
		Pipeline:        s.Pipeline,
		Version:         s.Version,
		StartedAt:       s.StartedAt,
		CancelRequested: s.CancelRequested(),
	}
}

// RunInfo — сведения об активном run.
type RunInfo struct {
	RunID           uuid.UUID `json:"run_id"`
	Pipeline        string    `json:"pipeline"`
	Version         int       `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	CancelRequested bool      `json:"cancel_requested"`
}
