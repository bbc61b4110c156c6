// Package scheduler запускает pipelines по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и создаёт runs последней версии pipeline.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Run, Tick, processSchedule)
//   - cron.go      — cron-выражения, валидация и вычисление следующего времени
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedules: scheduleRepo,
//	    Runs:      runRepo,
//	    Pipelines: pipelineRepo,
//	    Publisher: publisher,  // опционально
//	    Logger:    logger,
//	})
//
//	sched.Run(ctx, time.Second, repo.NewLeader(pool, repo.SchedulerLockKey))
//
// Leader Election:
//
// Tick выполняет только лидер. В production лидерство держится
// сессионным pg_try_advisory_lock (repo.Leader).
package scheduler
