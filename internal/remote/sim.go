package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
)

// SimAdapter — симуляция платформы обучения в памяти.
//
// Используется тестами планировщика и командой trellis run --simulate:
// job'ы «выполняются» заданное время и завершаются по сценарию
// (по умолчанию — успех).
type SimAdapter struct {
	mu   sync.Mutex
	jobs map[string]*simJob

	// script — очередь исходов по имени шага: по одному на каждую
	// попытку. Пустая очередь — успех.
	script map[string][]JobStatus

	// submits — счётчик отправок по имени шага.
	submits map[string]int

	latency time.Duration
}

// simJob — состояние симулируемого job'а.
type simJob struct {
	readyAt   time.Time
	outcome   JobStatus
	cancelled bool
}

// NewSim создаёт SimAdapter.
// latency — сколько времени job остаётся IN_PROGRESS.
func NewSim(latency time.Duration) *SimAdapter {
	return &SimAdapter{
		jobs:    make(map[string]*simJob),
		script:  make(map[string][]JobStatus),
		submits: make(map[string]int),
		latency: latency,
	}
}

// ScriptOutcome задаёт исходы для очередных попыток шага.
func (a *SimAdapter) ScriptOutcome(stepName string, outcomes ...JobStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script[stepName] = append(a.script[stepName], outcomes...)
}

// Submits возвращает количество отправок шага.
func (a *SimAdapter) Submits(stepName string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits[stepName]
}

// Submit реализует Adapter.
func (a *SimAdapter) Submit(_ context.Context, _ uuid.UUID, step *domain.StepSpec, _ int) (JobHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.submits[step.Name]++

	// Исход попытки фиксируется при отправке.
	outcome := JobStatus{State: JobStateSucceeded}
	if queue := a.script[step.Name]; len(queue) > 0 {
		outcome = queue[0]
		a.script[step.Name] = queue[1:]
	}

	id := uuid.New().String()
	a.jobs[id] = &simJob{
		readyAt: time.Now().Add(a.latency),
		outcome: outcome,
	}

	return JobHandle{ID: id, StepName: step.Name}, nil
}

// Poll реализует Adapter.
func (a *SimAdapter) Poll(_ context.Context, handle JobHandle) (JobStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[handle.ID]
	if !ok {
		return JobStatus{State: JobStateFailedPermanent, Reason: ErrJobNotFound.Error()}, nil
	}
	if job.cancelled {
		return JobStatus{State: JobStateFailedPermanent, Reason: "job cancelled"}, nil
	}
	if time.Now().Before(job.readyAt) {
		return JobStatus{State: JobStateInProgress}, nil
	}
	return job.outcome, nil
}

// Cancel реализует Adapter.
func (a *SimAdapter) Cancel(_ context.Context, handle JobHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if job, ok := a.jobs[handle.ID]; ok {
		job.cancelled = true
	}
	return nil
}
