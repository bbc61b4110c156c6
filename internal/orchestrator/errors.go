package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrInvalidPipeline — pipeline не прошёл валидацию, run не стартует.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrPipelineNotFound — версия pipeline для run не найдена.
	ErrPipelineNotFound = errors.New("pipeline version not found")

	// ErrGateRejected — оператор отклонил gate.
	ErrGateRejected = errors.New("approval rejected")

	// ErrGateTimedOut — решение по gate не получено до дедлайна.
	ErrGateTimedOut = errors.New("approval timed out")

	// ErrRunAlreadyActive — run уже выполняется этим процессом.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrRunNotActive — run не выполняется этим процессом.
	ErrRunNotActive = errors.New("run not in active runs")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
