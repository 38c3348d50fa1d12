package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения пайплайна.
//
// Run создаётся когда:
//   - Пользователь запускает пайплайн через CLI (trellis run / trellis submit)
//   - Orchestrator создаёт run по расписанию
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на зарегистрированный пайплайн.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// PipelineName — имя пайплайна (копия для удобства).
	PipelineName string `json:"pipeline_name,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Для scheduled runs: "{schedule_id}_{next_due_at}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}

// StepState — состояние выполнения одного шага в рамках run.
//
// Создаётся планировщиком при старте run (PENDING для всех шагов)
// и мутируется только его управляющим циклом.
type StepState struct {
	// StepName — имя шага из PipelineSpec.
	StepName string `json:"step_name"`

	// Status — текущий статус шага.
	Status StepStatus `json:"status"`

	// Attempts — количество сделанных попыток.
	Attempts int `json:"attempts"`

	// JobID — идентификатор job'а на удалённой платформе (после submit).
	JobID string `json:"job_id,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// SkippedBecause — имя упавшего предка, из-за которого шаг SKIPPED.
	SkippedBecause string `json:"skipped_because,omitempty"`

	// StartedAt — время первой диспетчеризации.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения финального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MarkReady переводит шаг в READY.
func (s *StepState) MarkReady() {
	s.Status = StepStatusReady
}

// MarkRunning переводит шаг в RUNNING и увеличивает счётчик попыток.
func (s *StepState) MarkRunning() {
	s.Status = StepStatusRunning
	s.Attempts++
	if s.StartedAt == nil {
		now := time.Now()
		s.StartedAt = &now
	}
}

// MarkSucceeded переводит шаг в SUCCEEDED.
func (s *StepState) MarkSucceeded() {
	now := time.Now()
	s.Status = StepStatusSucceeded
	s.FinishedAt = &now
	s.Error = ""
}

// MarkFailed переводит шаг в FAILED с ошибкой.
func (s *StepState) MarkFailed(err string) {
	now := time.Now()
	s.Status = StepStatusFailed
	s.FinishedAt = &now
	s.Error = err
}

// MarkSkipped переводит шаг в SKIPPED с указанием упавшего предка.
func (s *StepState) MarkSkipped(ancestor string) {
	now := time.Now()
	s.Status = StepStatusSkipped
	s.FinishedAt = &now
	s.SkippedBecause = ancestor
}

// MarkCancelled переводит шаг в CANCELLED.
func (s *StepState) MarkCancelled() {
	now := time.Now()
	s.Status = StepStatusCancelled
	s.FinishedAt = &now
}

// RunResult — итоговый снимок выполнения run.
//
// Создаётся один раз после завершения и далее не изменяется.
type RunResult struct {
	// RunID — идентификатор run.
	RunID uuid.UUID `json:"run_id"`

	// PipelineName — имя пайплайна.
	PipelineName string `json:"pipeline_name"`

	// Status — итоговый статус run.
	// SUCCEEDED тогда и только тогда, когда все не-skipped шаги SUCCEEDED.
	Status RunStatus `json:"status"`

	// Steps — финальные состояния шагов в порядке объявления.
	Steps []StepState `json:"steps"`

	// StartedAt — время начала.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время завершения.
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded возвращает true, если run завершился успешно.
func (r *RunResult) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}

// StepsWithStatus возвращает имена шагов с указанным статусом.
func (r *RunResult) StepsWithStatus(status StepStatus) []string {
	var names []string
	for i := range r.Steps {
		if r.Steps[i].Status == status {
			names = append(names, r.Steps[i].StepName)
		}
	}
	return names
}
