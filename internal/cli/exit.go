package cli

import (
	"errors"

	"github.com/shaiso/Trellis/internal/engine"
)

// Коды выхода trellis.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitValidation = 2
	ExitGraph      = 3
	ExitRunFailed  = 4
	ExitCancelled  = 5
)

// exitError — ошибка с кодом выхода процесса.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// withExitCode оборачивает ошибку кодом выхода.
func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode возвращает код выхода для ошибки команды.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	var valErr *engine.ValidationError
	if errors.As(err, &valErr) {
		return ExitValidation
	}

	var graphErr *engine.GraphError
	if errors.As(err, &graphErr) {
		return ExitGraph
	}

	return ExitError
}
