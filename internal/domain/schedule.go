package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleKind — способ вычисления следующего срабатывания.
type ScheduleKind string

const (
	ScheduleKindNone     ScheduleKind = ""
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
)

// Schedule — периодический запуск pipeline.
//
// Каждое срабатывание создаёт run последней версии pipeline с параметрами
// Params. Cron-выражение вычисляется в Timezone, интервал от момента
// срабатывания.
type Schedule struct {
	ID uuid.UUID `json:"id"`

	// PipelineName — pipeline, который запускается.
	PipelineName string `json:"pipeline_name"`
	Name         string `json:"name,omitempty"`

	// CronExpr — пятипольное cron-выражение или дескриптор (@daily).
	// Имеет приоритет над IntervalSec.
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`

	// Timezone — IANA имя, по умолчанию UTC.
	Timezone string `json:"timezone"`

	Enabled bool `json:"enabled"`

	// NextDueAt — момент следующего срабатывания (UTC). Вместе с ID
	// образует idempotency key создаваемого run.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	Params map[string]string `json:"params,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Kind возвращает тип триггера расписания.
func (s *Schedule) Kind() ScheduleKind {
	switch {
	case s.CronExpr != "":
		return ScheduleKindCron
	case s.IntervalSec > 0:
		return ScheduleKindInterval
	default:
		return ScheduleKindNone
	}
}

// IsDue — включено и NextDueAt не позже now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextDueAt != nil && !now.Before(*s.NextDueAt)
}

// RecordFiring фиксирует срабатывание и сдвигает NextDueAt.
// runID == uuid.Nil означает, что run не был создан.
func (s *Schedule) RecordFiring(runID uuid.UUID, nextDue, now time.Time) {
	if runID != uuid.Nil {
		s.LastRunAt = &now
		s.LastRunID = &runID
	}
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
