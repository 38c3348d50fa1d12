package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotPending — run уже обрабатывается или завершён.
	ErrRunNotPending = errors.New("run is not pending")

	// ErrRunAlreadyActive — run уже выполняется этим оркестратором.
	ErrRunAlreadyActive = errors.New("run already active")

	// ErrRunNotActive — run не выполняется этим оркестратором.
	ErrRunNotActive = errors.New("run not active")

	// ErrScheduleInvalid — расписание не имеет ни cron_expr, ни interval_sec.
	ErrScheduleInvalid = errors.New("schedule has neither cron_expr nor interval_sec")
)
