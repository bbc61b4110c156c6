package domain

import (
	"time"

	"github.com/google/uuid"
)

// Promotion — намерение продвинуть версию в окружение.
//
// Conveyor только публикует намерение, синхронизацией окружения
// занимается внешний GitOps-контроллер.
type Promotion struct {
	ID          uuid.UUID `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Task        string    `json:"task"`
	Environment string    `json:"environment"`
	Version     string    `json:"version"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewPromotion создаёт promotion с новым ID.
func NewPromotion(runID uuid.UUID, pipeline, task, env, version string) Promotion {
	return Promotion{
		ID:          uuid.New(),
		RunID:       runID,
		Pipeline:    pipeline,
		Task:        task,
		Environment: env,
		Version:     version,
		RequestedAt: time.Now(),
	}
}
