package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все задачи run завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы одна задача завершилась с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён оператором.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус задачи внутри run.
//
// Жизненный цикл (только вперёд):
//
//	WAITING → READY → RUNNING → SUCCEEDED
//	                          ↘ FAILED
//	WAITING | READY → SKIPPED
//	RUNNING → SKIPPED (только отмена ожидания approval)
type TaskStatus string

const (
	// TaskStatusWaiting — задача ждёт свой tier.
	TaskStatusWaiting TaskStatus = "WAITING"

	// TaskStatusReady — все зависимости выполнены, задача готова к запуску.
	TaskStatusReady TaskStatus = "READY"

	// TaskStatusRunning — задача выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — задача успешно завершена.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — задача завершилась с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — задача не запускалась (упала зависимость или run отменён).
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// GateStatus — состояние approval gate.
type GateStatus string

const (
	// GateStatusPending — решение ещё не принято.
	GateStatusPending GateStatus = "PENDING"

	// GateStatusApproved — оператор разрешил продолжение.
	GateStatusApproved GateStatus = "APPROVED"

	// GateStatusRejected — оператор отклонил продолжение.
	GateStatusRejected GateStatus = "REJECTED"
)

// IsDecided возвращает true, если по gate принято решение.
func (s GateStatus) IsDecided() bool {
	return s == GateStatusApproved || s == GateStatusRejected
}

// Reason — причина неуспешного завершения задачи или run.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonExecutionFailed Reason = "ExecutionFailed"
	ReasonTimeout         Reason = "Timeout"
	ReasonNotifyError     Reason = "NotifyError"
	ReasonGateRejected    Reason = "GateRejected"
	ReasonGateTimedOut    Reason = "GateTimedOut"
	ReasonUpstreamFailed  Reason = "UpstreamFailed"
	ReasonRunAborted      Reason = "RunAborted"
	ReasonCancelled       Reason = "Cancelled"
	ReasonInterrupted     Reason = "Interrupted"
)

// TaskKind — вид задачи.
type TaskKind string

const (
	// TaskKindCommand — произвольная shell-команда (build, scan, push).
	TaskKindCommand TaskKind = "command"

	// TaskKindApproval — ручное подтверждение через approval gate.
	TaskKindApproval TaskKind = "approval"

	// TaskKindDeploy — продвижение версии в окружение.
	TaskKindDeploy TaskKind = "deploy"
)

// IsValid проверяет, что вид задачи известен.
func (k TaskKind) IsValid() bool {
	switch k {
	case TaskKindCommand, TaskKindApproval, TaskKindDeploy:
		return true
	default:
		return false
	}
}

// Trigger — источник запуска run.
type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
	TriggerCLI      Trigger = "cli"
)
