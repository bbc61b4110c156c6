package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Pipeline DTOs

// PipelineResponse — ответ с версией pipeline.
type PipelineResponse struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Version     int                  `json:"version"`
	Description string               `json:"description,omitempty"`
	Params      map[string]string    `json:"params,omitempty"`
	Defaults    *domain.TaskDefaults `json:"defaults,omitempty"`
	Tasks       []domain.TaskDef     `json:"tasks"`
	Tiers       [][]string           `json:"tiers,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline, tiers [][]string) PipelineResponse {
	return PipelineResponse{
		ID:          p.ID,
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Params:      p.Params,
		Defaults:    p.Defaults,
		Tasks:       p.Tasks,
		Tiers:       tiers,
		CreatedAt:   p.CreatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Params         map[string]string `json:"params,omitempty"`
	Version        *int              `json:"version,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID              uuid.UUID         `json:"id"`
	PipelineID      uuid.UUID         `json:"pipeline_id"`
	Pipeline        string            `json:"pipeline"`
	Version         int               `json:"version"`
	Status          string            `json:"status"`
	Params          map[string]string `json:"params,omitempty"`
	Reason          string            `json:"failure_reason,omitempty"`
	FailedTask      string            `json:"failed_task,omitempty"`
	Error           string            `json:"error,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	Trigger         string            `json:"trigger,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	Counts          map[string]int    `json:"task_counts,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	var counts map[string]int
	if len(r.Tasks) > 0 {
		counts = make(map[string]int)
		for status, n := range r.Counts() {
			counts[string(status)] = n
		}
	}

	return RunResponse{
		ID:              r.ID,
		PipelineID:      r.PipelineID,
		Pipeline:        r.PipelineName,
		Version:         r.Version,
		Status:          string(r.Status),
		Params:          r.Params,
		Reason:          string(r.Reason),
		FailedTask:      r.FailedTask,
		Error:           r.Error,
		CancelRequested: r.CancelRequested,
		Trigger:         string(r.Trigger),
		IdempotencyKey:  r.IdempotencyKey,
		Counts:          counts,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		CreatedAt:       r.CreatedAt,
	}
}

// Task DTOs

// TaskResponse — ответ с состоянием задачи run.
type TaskResponse struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	SkippedBy  string     `json:"skipped_by,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	LogRef     string     `json:"log_ref,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
}

// TaskFromDomain конвертирует domain.TaskState в TaskResponse.
func TaskFromDomain(t *domain.TaskState) TaskResponse {
	return TaskResponse{
		Name:       t.Name,
		Status:     string(t.Status),
		Reason:     string(t.Reason),
		SkippedBy:  t.SkippedBy,
		ExitCode:   t.ExitCode,
		Attempts:   t.Attempts,
		LogRef:     t.LogRef,
		Error:      t.Error,
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
		DurationMs: t.Duration().Milliseconds(),
	}
}

// Gate DTOs

// DecideGateRequest — решение оператора по gate.
type DecideGateRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor,omitempty"`
}

// GateResponse — ответ с gate.
type GateResponse struct {
	RunID     uuid.UUID  `json:"run_id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Live      bool       `json:"live"`
	CreatedAt time.Time  `json:"created_at"`
	Deadline  time.Time  `json:"deadline"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
}

// GateFromDomain конвертирует domain.Gate в GateResponse.
func GateFromDomain(g *domain.Gate) GateResponse {
	return GateResponse{
		RunID:     g.RunID,
		Name:      g.Name,
		Status:    string(g.Status),
		Live:      g.Live,
		CreatedAt: g.CreatedAt,
		Deadline:  g.Deadline,
		DecidedAt: g.DecidedAt,
		DecidedBy: g.DecidedBy,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string            `json:"name"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Enabled     bool              `json:"enabled"`
	Params      map[string]string `json:"params,omitempty"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string            `json:"name,omitempty"`
	CronExpr    *string            `json:"cron_expr,omitempty"`
	IntervalSec *int               `json:"interval_sec,omitempty"`
	Timezone    *string            `json:"timezone,omitempty"`
	Params      *map[string]string `json:"params,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID         `json:"id"`
	Pipeline    string            `json:"pipeline"`
	Name        string            `json:"name"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone"`
	Enabled     bool              `json:"enabled"`
	NextDueAt   *time.Time        `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID        `json:"last_run_id,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		Pipeline:    s.PipelineName,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		Params:      s.Params,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
