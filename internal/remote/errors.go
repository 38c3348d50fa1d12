package remote

import "errors"

// Ошибки адаптера.
var (
	// ErrSubmit — отправка job'а не удалась.
	ErrSubmit = errors.New("job submit failed")

	// ErrCancel — отмена job'а не удалась.
	ErrCancel = errors.New("job cancel failed")

	// ErrJobNotFound — job не найден на платформе.
	ErrJobNotFound = errors.New("job not found")
)

// TransientError — транзиентная ошибка платформы; повтор может помочь.
type TransientError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError — перманентная ошибка платформы; повтор бесполезен.
type PermanentError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient возвращает true, если ошибка классифицирована как транзиентная.
// Неклассифицированные ошибки считаются перманентными (консервативный дефолт).
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
