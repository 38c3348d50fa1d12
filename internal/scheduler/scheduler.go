package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
	"github.com/shaiso/Trellis/internal/remote"
	"github.com/shaiso/Trellis/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval   = 5 * time.Second
	defaultMaxConcurrency = 4
	cancelTimeout         = 10 * time.Second
)

// Recorder получает уведомления об изменениях состояний шагов.
//
// Вызывается из управляющего цикла (однопоточно), получает копию
// состояния. Реализации: запись в БД, публикация событий, вывод
// прогресса в CLI.
type Recorder interface {
	StepUpdated(ctx context.Context, runID uuid.UUID, state domain.StepState)
}

// Scheduler ведёт граф пайплайна до завершения.
//
// Локальная конкурентность — это опрос и диспетчеризация, а не
// CPU-bound работа: собственно вычисления идут на удалённой платформе.
type Scheduler struct {
	adapter        remote.Adapter
	maxConcurrency int
	pollInterval   time.Duration
	runTimeout     time.Duration
	recorder       Recorder
	logger         *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	// Adapter — адаптер удалённого выполнения (обязателен).
	Adapter remote.Adapter

	// MaxConcurrency — максимум одновременно RUNNING шагов (default: 4).
	MaxConcurrency int

	// PollInterval — интервал опроса статусов job'ов (default: 5s).
	PollInterval time.Duration

	// RunTimeout — таймаут всего run; 0 — без ограничения.
	// По истечении все незавершённые шаги отменяются.
	RunTimeout time.Duration

	// Recorder — приёмник изменений состояний (опционально).
	Recorder Recorder

	// Logger
	Logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		adapter:        cfg.Adapter,
		maxConcurrency: maxConcurrency,
		pollInterval:   pollInterval,
		runTimeout:     cfg.RunTimeout,
		recorder:       cfg.Recorder,
		logger:         logger,
	}
}

// Виды событий от горутин-поллеров.
type eventKind int

const (
	eventSubmitted eventKind = iota
	eventFinished
)

// stepEvent — событие жизненного цикла шага, отправляемое поллером
// в управляющий цикл.
type stepEvent struct {
	node      int
	kind      eventKind
	handle    remote.JobHandle
	status    remote.JobStatus
	cancelled bool
}

// Run выполняет граф до завершения и возвращает итоговый снимок.
//
// Гарантии:
//   - Узел не переходит в RUNNING, пока все его зависимости не SUCCEEDED
//   - Одновременно RUNNING не больше maxConcurrency узлов
//   - Упавший узел каскадно переводит транзитивных зависимых в SKIPPED;
//     независимые ветви продолжают выполняться
//   - Отмена ctx переводит PENDING/READY в CANCELLED и запрашивает
//     best-effort отмену RUNNING job'ов
//
// Run возвращает ошибку только при некорректной конфигурации;
// исход выполнения описывает RunResult.Status.
func (s *Scheduler) Run(ctx context.Context, runID uuid.UUID, pipelineName string, graph *engine.Graph) (*domain.RunResult, error) {
	if s.adapter == nil {
		return nil, ErrNoAdapter
	}
	if graph == nil || graph.Len() == 0 {
		return nil, ErrNilGraph
	}

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	st := newRunState(graph)
	events := make(chan stepEvent, graph.Len()*2)
	cancels := make([]context.CancelFunc, graph.Len())
	startedAt := time.Now()

	logger := telemetry.WithRunID(s.logger, runID.String())
	logger.Info("run started",
		"pipeline", pipelineName,
		"steps", graph.Len(),
		"max_concurrency", s.maxConcurrency,
	)

	for _, i := range graph.Roots() {
		s.record(ctx, runID, st.steps[i])
	}

	s.dispatch(runCtx, runID, st, events, cancels)

	cancelling := false
	done := runCtx.Done()

	for !st.done() {
		select {
		case ev := <-events:
			s.handleEvent(ctx, runCtx, runID, st, events, cancels, ev, &cancelling, logger)

		case <-done:
			done = nil
			cancelling = true
			s.beginCancel(ctx, runID, st, cancels, logger)
		}
	}

	result := st.result(runID, pipelineName, startedAt)
	telemetry.RunFinished(string(result.Status), result.FinishedAt.Sub(result.StartedAt))

	logger.Info("run finished",
		"status", result.Status,
		"duration", result.FinishedAt.Sub(result.StartedAt),
		"failed_steps", result.StepsWithStatus(domain.StepStatusFailed),
	)

	return result, nil
}

// handleEvent обрабатывает одно событие от поллера.
func (s *Scheduler) handleEvent(
	ctx, runCtx context.Context,
	runID uuid.UUID,
	st *runState,
	events chan stepEvent,
	cancels []context.CancelFunc,
	ev stepEvent,
	cancelling *bool,
	logger *slog.Logger,
) {
	state := st.steps[ev.node]
	node := st.graph.Node(ev.node)

	if ev.kind == eventSubmitted {
		state.JobID = ev.handle.ID
		s.record(ctx, runID, state)
		return
	}

	// eventFinished
	st.running--
	cancels[ev.node] = nil

	switch {
	case ev.cancelled:
		state.MarkCancelled()
		logger.Info("step cancelled", "step", state.StepName)

	case ev.status.State == remote.JobStateSucceeded:
		state.MarkSucceeded()
		logger.Info("step succeeded",
			"step", state.StepName,
			"attempt", state.Attempts,
		)
		for _, promoted := range st.promoteDependents(ev.node) {
			s.record(ctx, runID, st.steps[promoted])
		}

	case ev.status.State == remote.JobStateFailedTransient &&
		state.Attempts < node.Step.Remote.Attempts() &&
		!*cancelling:
		// Транзиентная ошибка и попытки остались — шаг возвращается в READY.
		state.MarkReady()
		logger.Warn("step failed transiently, retrying",
			"step", state.StepName,
			"attempt", state.Attempts,
			"max_attempts", node.Step.Remote.Attempts(),
			"reason", ev.status.Reason,
		)

	default:
		state.MarkFailed(ev.status.Reason)
		logger.Warn("step failed",
			"step", state.StepName,
			"attempt", state.Attempts,
			"reason", ev.status.Reason,
		)
		for _, skipped := range st.cascadeSkip(ev.node) {
			s.record(ctx, runID, st.steps[skipped])
			logger.Info("step skipped",
				"step", st.steps[skipped].StepName,
				"failed_ancestor", state.StepName,
			)
		}
	}

	s.record(ctx, runID, state)
	if state.Status.IsTerminal() {
		s.observeStep(node.Step, state)
	}

	if !*cancelling {
		s.dispatch(runCtx, runID, st, events, cancels)
	}
}

// dispatch запускает READY шаги с учётом лимита конкурентности.
func (s *Scheduler) dispatch(runCtx context.Context, runID uuid.UUID, st *runState, events chan stepEvent, cancels []context.CancelFunc) {
	for _, i := range st.readyNodes() {
		if st.running >= s.maxConcurrency {
			return
		}

		state := st.steps[i]
		state.MarkRunning()
		st.running++
		s.record(runCtx, runID, state)

		nodeCtx, cancel := context.WithCancel(runCtx)
		cancels[i] = cancel

		go s.runStep(nodeCtx, events, runID, i, st.graph.Node(i).Step, state.Attempts)
	}
}

// beginCancel начинает отмену run: PENDING/READY → CANCELLED,
// RUNNING получают запрос отмены через свои контексты.
func (s *Scheduler) beginCancel(ctx context.Context, runID uuid.UUID, st *runState, cancels []context.CancelFunc, logger *slog.Logger) {
	logger.Info("run cancellation requested")

	for _, i := range st.cancelPendingReady() {
		s.record(ctx, runID, st.steps[i])
	}
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
}

// runStep — горутина одного RUNNING шага: submit, затем опрос
// до финального статуса. Состояние НЕ мутирует — только шлёт события.
func (s *Scheduler) runStep(ctx context.Context, events chan<- stepEvent, runID uuid.UUID, node int, step *domain.StepSpec, attempt int) {
	handle, err := s.adapter.Submit(ctx, runID, step, attempt)
	if err != nil {
		if ctx.Err() != nil {
			events <- stepEvent{node: node, kind: eventFinished, cancelled: true}
			return
		}
		events <- stepEvent{node: node, kind: eventFinished, status: classifySubmitError(err)}
		return
	}

	telemetry.JobSubmitted()
	events <- stepEvent{node: node, kind: eventSubmitted, handle: handle}

	// Нулевой таймаут — без ограничения (nil-канал никогда не сработает).
	var timeoutC <-chan time.Time
	if d := step.Remote.Timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutC = timer.C
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancelJob(handle)
			events <- stepEvent{node: node, kind: eventFinished, cancelled: true}
			return

		case <-timeoutC:
			// Превышение wall-clock таймаута — перманентная ошибка.
			s.cancelJob(handle)
			events <- stepEvent{node: node, kind: eventFinished, status: remote.JobStatus{
				State:  remote.JobStateFailedPermanent,
				Reason: fmt.Sprintf("%v after %s", ErrStepTimeout, step.Remote.Timeout()),
			}}
			return

		case <-ticker.C:
			status, err := s.adapter.Poll(ctx, handle)
			if err != nil {
				if ctx.Err() != nil {
					s.cancelJob(handle)
					events <- stepEvent{node: node, kind: eventFinished, cancelled: true}
					return
				}
				// Адаптер уже повторял опрос; остаточная ошибка — перманент.
				events <- stepEvent{node: node, kind: eventFinished, status: remote.JobStatus{
					State:  remote.JobStateFailedPermanent,
					Reason: fmt.Sprintf("poll: %v", err),
				}}
				return
			}
			if status.State.IsTerminal() {
				events <- stepEvent{node: node, kind: eventFinished, status: status}
				return
			}
		}
	}
}

// cancelJob запрашивает отмену job'а с собственным таймаутом:
// контекст шага к этому моменту уже может быть отменён.
func (s *Scheduler) cancelJob(handle remote.JobHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	if err := s.adapter.Cancel(ctx, handle); err != nil {
		s.logger.Warn("job cancel failed",
			"job_id", handle.ID,
			"step", handle.StepName,
			"error", err,
		)
	}
}

// record уведомляет Recorder об изменении состояния шага.
func (s *Scheduler) record(ctx context.Context, runID uuid.UUID, state *domain.StepState) {
	if s.recorder == nil {
		return
	}
	s.recorder.StepUpdated(ctx, runID, *state)
}

// observeStep отправляет метрики финального статуса шага.
func (s *Scheduler) observeStep(step *domain.StepSpec, state *domain.StepState) {
	var duration time.Duration
	if state.StartedAt != nil && state.FinishedAt != nil {
		duration = state.FinishedAt.Sub(*state.StartedAt)
	}
	telemetry.StepFinished(string(step.Kind), string(state.Status), duration)
}

// classifySubmitError переводит ошибку submit в статус job'а.
func classifySubmitError(err error) remote.JobStatus {
	if remote.IsTransient(err) {
		return remote.JobStatus{State: remote.JobStateFailedTransient, Reason: err.Error()}
	}
	return remote.JobStatus{State: remote.JobStateFailedPermanent, Reason: err.Error()}
}
