// Package runner выполняет отдельные задачи pipeline.
//
// # Обзор
//
// Runner получает Request (задача, итоговые параметры, таймаут, число
// повторов), выбирает Executor по виду задачи и возвращает Result.
// Runner не хранит состояния между вызовами и никогда не возвращает
// ошибку: исход описывается полями Result.Reason и Result.Error.
//
//	r := runner.New(runner.Config{
//	    Registry: runner.NewRegistry(runner.NewCommandExecutor(workDir), notifier),
//	    Logs:     logs,
//	    Logger:   logger,
//	})
//
//	res := r.Run(ctx, runner.Request{RunID: id, Task: def, Params: params, Timeout: 10 * time.Minute})
//
// # Executors
//
//   - CommandExecutor — "sh -c <command>", параметры в окружении как PARAM_<NAME>
//   - DeployExecutor — опциональная команда, затем Notifier.Notify(promotion)
//
// Approval-задачи Runner не выполняет, ими занимается координатор.
//
// # Исходы
//
//   - ReasonNone — код выхода 0
//   - ReasonExecutionFailed — ненулевой код, процесс не стартовал, ошибка шаблона
//   - ReasonTimeout — попытка не уложилась в Timeout, группа процессов убита
//   - ReasonNotifyError — promotion не доставлена
//
// # Retry
//
// Retry выполняется в процессе. Стратегии backoff:
//   - exponential: delay = Initial * 2^(attempt-1), не больше Max
//   - fixed: delay = Initial
//
// Вывод всех попыток сохраняется одним логом в logstore.Store,
// LogRef возвращается при любом исходе.
package runner
