package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
)

// runState — состояние выполнения одного run.
//
// Владелец — управляющий цикл Scheduler.Run; мьютекс не нужен,
// потому что конкурентных писателей нет.
type runState struct {
	graph *engine.Graph

	// steps — по одному состоянию на узел графа, индексы совпадают.
	steps []*domain.StepState

	// running — количество шагов в статусе RUNNING.
	running int
}

// newRunState создаёт состояние: все шаги PENDING, корни — READY.
func newRunState(graph *engine.Graph) *runState {
	st := &runState{
		graph: graph,
		steps: make([]*domain.StepState, graph.Len()),
	}

	for i := 0; i < graph.Len(); i++ {
		st.steps[i] = &domain.StepState{
			StepName: graph.Node(i).Step.Name,
			Status:   domain.StepStatusPending,
		}
	}
	for _, i := range graph.Roots() {
		st.steps[i].MarkReady()
	}

	return st
}

// readyNodes возвращает индексы READY узлов в топологическом порядке.
func (st *runState) readyNodes() []int {
	var ready []int
	for _, i := range st.graph.Order() {
		if st.steps[i].Status == domain.StepStatusReady {
			ready = append(ready, i)
		}
	}
	return ready
}

// promoteDependents переводит в READY тех зависимых узла i,
// у которых ВСЕ зависимости достигли SUCCEEDED.
// Возвращает индексы продвинутых узлов.
func (st *runState) promoteDependents(i int) []int {
	var promoted []int

	for _, dep := range st.graph.Node(i).Dependents {
		if st.steps[dep].Status != domain.StepStatusPending {
			continue
		}

		allSucceeded := true
		for _, req := range st.graph.Node(dep).DependsOn {
			if st.steps[req].Status != domain.StepStatusSucceeded {
				allSucceeded = false
				break
			}
		}

		if allSucceeded {
			st.steps[dep].MarkReady()
			promoted = append(promoted, dep)
		}
	}

	return promoted
}

// cascadeSkip помечает SKIPPED все транзитивные зависимые узла i.
// Затронуты могут быть только PENDING узлы: READY/RUNNING требуют
// успеха всех зависимостей, что несовместимо с падением предка.
// Возвращает индексы пропущенных узлов.
func (st *runState) cascadeSkip(i int) []int {
	ancestor := st.steps[i].StepName
	var skipped []int

	for _, desc := range st.graph.Descendants(i) {
		if st.steps[desc].Status == domain.StepStatusPending {
			st.steps[desc].MarkSkipped(ancestor)
			skipped = append(skipped, desc)
		}
	}

	return skipped
}

// cancelPendingReady переводит все PENDING/READY узлы в CANCELLED.
// Возвращает индексы отменённых узлов.
func (st *runState) cancelPendingReady() []int {
	var cancelled []int

	for i := range st.steps {
		switch st.steps[i].Status {
		case domain.StepStatusPending, domain.StepStatusReady:
			st.steps[i].MarkCancelled()
			cancelled = append(cancelled, i)
		}
	}

	return cancelled
}

// done возвращает true, когда ни один узел не PENDING/READY/RUNNING.
func (st *runState) done() bool {
	for i := range st.steps {
		if !st.steps[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// result собирает итоговый RunResult.
//
// Итоговый статус: FAILED, если упал хотя бы один шаг;
// CANCELLED, если есть отменённые и нет упавших;
// иначе SUCCEEDED (все не-skipped шаги успешны).
func (st *runState) result(runID uuid.UUID, pipelineName string, startedAt time.Time) *domain.RunResult {
	status := domain.RunStatusSucceeded
	for i := range st.steps {
		switch st.steps[i].Status {
		case domain.StepStatusFailed:
			status = domain.RunStatusFailed
		case domain.StepStatusCancelled:
			if status != domain.RunStatusFailed {
				status = domain.RunStatusCancelled
			}
		}
	}

	steps := make([]domain.StepState, len(st.steps))
	for i := range st.steps {
		steps[i] = *st.steps[i]
	}

	return &domain.RunResult{
		RunID:        runID,
		PipelineName: pipelineName,
		Status:       status,
		Steps:        steps,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
}
