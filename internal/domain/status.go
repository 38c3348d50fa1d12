package domain

// StepStatus — статус выполнения шага внутри run.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → SUCCEEDED
//	                          ↘ FAILED (транзиентная ошибка может вернуть в READY)
//	PENDING/READY → SKIPPED (упала транзитивная зависимость)
//	PENDING/READY/RUNNING → CANCELLED (отмена run)
type StepStatus string

const (
	// StepStatusPending — шаг ждёт завершения зависимостей.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusReady — все зависимости SUCCEEDED, шаг готов к диспетчеризации.
	StepStatusReady StepStatus = "READY"

	// StepStatusRunning — job отправлен на платформу и выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSucceeded — шаг успешно завершён.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — шаг завершился ошибкой (после всех retry).
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — шаг не выполнялся из-за упавшего предка.
	StepStatusSkipped StepStatus = "SKIPPED"

	// StepStatusCancelled — шаг отменён при остановке run.
	StepStatusCancelled StepStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatus — статус выполнения run.
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

	// RunStatusSucceeded — все не-skipped шаги завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один шаг упал.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён оператором или по таймауту.
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
