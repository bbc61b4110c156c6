package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// cronParser — стандартный пятипольный формат плюс дескрипторы (@daily, @every 1h).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextDue вычисляет следующее время срабатывания schedule после from.
// Cron-выражение интерпретируется в timezone schedule, результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := loadLocation(sched.Timezone)
	if err != nil {
		// Расписание уже сохранено, поэтому продолжаем в UTC.
		loc = time.UTC
	}

	fromInTz := from.In(loc)

	switch sched.Kind() {
	case domain.ScheduleKindCron:
		return calculateNextCron(sched.CronExpr, fromInTz)
	case domain.ScheduleKindInterval:
		return calculateNextInterval(sched.IntervalSec, fromInTz), nil
	default:
		return time.Time{}, fmt.Errorf("schedule has neither cron_expr nor interval_sec")
	}
}

func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	return schedule.Next(from).UTC(), nil
}

func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// Validate проверяет расписание перед сохранением.
func Validate(sched *domain.Schedule) error {
	if sched.PipelineName == "" {
		return fmt.Errorf("pipeline name is required")
	}
	switch {
	case sched.CronExpr != "":
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	case sched.IntervalSec > 0:
	default:
		return fmt.Errorf("either cron_expr or interval_sec is required")
	}
	if sched.IntervalSec < 0 {
		return fmt.Errorf("interval_sec must not be negative")
	}
	if _, err := loadLocation(sched.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", sched.Timezone, err)
	}
	return nil
}

// Prepare подставляет timezone по умолчанию и вычисляет первое срабатывание.
// Используется при создании и изменении schedule.
func Prepare(sched *domain.Schedule, now time.Time) error {
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if err := Validate(sched); err != nil {
		return err
	}
	next, err := CalculateNextDue(sched, now)
	if err != nil {
		return err
	}
	sched.NextDueAt = &next
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
