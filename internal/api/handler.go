package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RunPublisher сообщает orchestrator о новых runs и запросах отмены.
type RunPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
	PublishRunCancel(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelines repo.PipelineStore
	runs      repo.RunStore
	schedules repo.ScheduleStore
	gates     gate.Store
	logs      logstore.Store
	publisher RunPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipelines repo.PipelineStore
	Runs      repo.RunStore
	Schedules repo.ScheduleStore
	Gates     gate.Store
	Logs      logstore.Store
	Publisher RunPublisher // nil — orchestrator узнаёт о runs через polling
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipelines: cfg.Pipelines,
		runs:      cfg.Runs,
		schedules: cfg.Schedules,
		gates:     cfg.Gates,
		logs:      cfg.Logs,
		publisher: cfg.Publisher,
		logger:    logger,
		now:       time.Now,
	}
}
