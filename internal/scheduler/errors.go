package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrNoAdapter — планировщик сконструирован без адаптера.
	ErrNoAdapter = errors.New("scheduler requires an adapter")

	// ErrNilGraph — Run вызван с пустым графом.
	ErrNilGraph = errors.New("run requires a built graph")

	// ErrStepTimeout — шаг превысил wall-clock таймаут.
	// Перманентная ошибка: retry по таймауту не выполняется.
	ErrStepTimeout = errors.New("step execution timeout")
)
