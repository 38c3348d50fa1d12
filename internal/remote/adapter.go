package remote

import (
	"context"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
)

// JobState — нормализованное состояние удалённого job'а.
//
// Адаптер отвечает за классификацию «сырых» кодов ошибок платформы
// в transient (retry может помочь) и permanent (retry бесполезен).
type JobState string

const (
	// JobStateInProgress — job выполняется.
	JobStateInProgress JobState = "IN_PROGRESS"

	// JobStateSucceeded — job успешно завершён.
	JobStateSucceeded JobState = "SUCCEEDED"

	// JobStateFailedTransient — job упал по транзиентной причине
	// (throttling, нехватка ресурсов); повтор может помочь.
	JobStateFailedTransient JobState = "FAILED_TRANSIENT"

	// JobStateFailedPermanent — job упал окончательно
	// (невалидный вход, превышение квоты); повтор бесполезен.
	JobStateFailedPermanent JobState = "FAILED_PERMANENT"
)

// IsTerminal возвращает true, если состояние финальное.
func (s JobState) IsTerminal() bool {
	return s != JobStateInProgress
}

// JobStatus — результат опроса job'а.
type JobStatus struct {
	// State — нормализованное состояние.
	State JobState

	// Reason — причина ошибки (для FAILED_*).
	Reason string
}

// JobHandle — непрозрачная ссылка на отправленный job.
type JobHandle struct {
	// ID — идентификатор job'а на платформе.
	ID string

	// StepName — имя шага, для которого создан job.
	StepName string

	// Attempt — номер попытки, породившей job.
	Attempt int
}

// Adapter — интерфейс адаптера удалённого выполнения.
//
// Submit обязан быть идемпотентным при повторе: одна и та же пара
// шаг+попытка формирует запрос, который безопасно переотправить
// (дедупликация — на стороне платформы по idempotency key).
type Adapter interface {
	// Submit отправляет шаг на выполнение и возвращает handle job'а.
	Submit(ctx context.Context, runID uuid.UUID, step *domain.StepSpec, attempt int) (JobHandle, error)

	// Poll возвращает нормализованный статус job'а.
	// Транспортные ошибки адаптер повторяет сам (ограниченно)
	// и лишь затем отдаёт FAILED_TRANSIENT.
	Poll(ctx context.Context, handle JobHandle) (JobStatus, error)

	// Cancel запрашивает best-effort отмену job'а.
	Cancel(ctx context.Context, handle JobHandle) error
}
