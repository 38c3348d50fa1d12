package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/engine"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/repo"
)

// handleRunRequested обрабатывает запрос на запуск пайплайна из MQ.
func (o *Orchestrator) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.requested payload", "error", err)
		return err
	}

	o.logger.Debug("received run.requested event", "run_id", payload.RunID)

	if o.isRunActive(payload.RunID) {
		o.logger.Debug("run already active, skipping", "run_id", payload.RunID)
		return nil
	}

	if err := o.processRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
			o.logger.Debug("run not processed", "run_id", payload.RunID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process run", "run_id", payload.RunID, "error", err)
		return err
	}

	return nil
}

// handleCancelRequested обрабатывает запрос отмены run из MQ.
//
// Run, не активный в этом оркестраторе, подтверждается без действий:
// он уже завершился или был отменён до старта.
func (o *Orchestrator) handleCancelRequested(_ context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCancelRequestedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.cancel_requested payload", "error", err)
		return err
	}

	if err := o.CancelRun(payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotActive) {
			o.logger.Debug("cancel requested for inactive run", "run_id", payload.RunID)
			return nil
		}
		return err
	}

	return nil
}

// processRun берёт PENDING run в работу.
//
// Загружает пайплайн, валидирует спецификацию, строит DAG и запускает
// выполнение в отдельной горутине. Ошибки валидации и графа фатальны
// для run (FAILED без выполнения шагов).
func (o *Orchestrator) processRun(ctx context.Context, runID uuid.UUID) error {
	run, err := o.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return ErrRunNotPending
	}

	pipeline, err := o.pipelineRepo.GetByID(ctx, run.PipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o.failRun(ctx, run, fmt.Sprintf("pipeline not found: %s", run.PipelineID))
		}
		return fmt.Errorf("get pipeline: %w", err)
	}

	validator := engine.NewValidator(nil)
	if err := validator.Validate(&pipeline.Spec); err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("validation failed: %v", err))
	}

	graph, err := engine.Build(&pipeline.Spec)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("graph build failed: %v", err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := o.addActiveRun(run.ID, cancel); err != nil {
		cancel()
		return err
	}

	run.MarkRunning()
	if err := o.runRepo.Update(ctx, run); err != nil {
		o.removeActiveRun(run.ID)
		cancel()
		return fmt.Errorf("update run to running: %w", err)
	}

	o.logger.Info("run accepted",
		"run_id", run.ID,
		"pipeline", pipeline.Name,
		"steps", graph.Len(),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.removeActiveRun(run.ID)

		o.executeRun(runCtx, run, pipeline.Name, graph)
	}()

	return nil
}

// executeRun ведёт run до завершения и финализирует его в БД.
func (o *Orchestrator) executeRun(ctx context.Context, run *domain.Run, pipelineName string, graph *engine.Graph) {
	result, err := o.sched.Run(ctx, run.ID, pipelineName, graph)
	if err != nil {
		o.finalizeRun(run, domain.RunStatusFailed, fmt.Sprintf("scheduler: %v", err))
		return
	}

	switch result.Status {
	case domain.RunStatusSucceeded:
		o.finalizeRun(run, domain.RunStatusSucceeded, "")
	case domain.RunStatusCancelled:
		o.finalizeRun(run, domain.RunStatusCancelled, "")
	default:
		failed := result.StepsWithStatus(domain.StepStatusFailed)
		o.finalizeRun(run, domain.RunStatusFailed, fmt.Sprintf("failed steps: %v", failed))
	}
}

// finalizeRun записывает итоговый статус run в БД и публикует событие.
func (o *Orchestrator) finalizeRun(run *domain.Run, status domain.RunStatus, errText string) {
	switch status {
	case domain.RunStatusSucceeded:
		run.MarkSucceeded()
	case domain.RunStatusCancelled:
		run.MarkCancelled()
	default:
		run.MarkFailed(errText)
	}

	// Контекст run к этому моменту может быть отменён — финализация
	// идёт на отдельном контексте с таймаутом.
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := o.runRepo.Update(ctx, run); err != nil {
		o.logger.Error("failed to finalize run",
			"run_id", run.ID,
			"status", status,
			"error", err,
		)
	}

	if o.publisher != nil {
		err := o.publisher.PublishRunCompleted(ctx, mq.RunCompletedPayload{
			RunID:        run.ID,
			PipelineName: run.PipelineName,
			Status:       string(status),
			Error:        run.Error,
			DurationSec:  run.Duration().Seconds(),
		})
		if err != nil {
			o.logger.Warn("failed to publish run.completed", "run_id", run.ID, "error", err)
		}
	}

	o.logger.Info("run finalized",
		"run_id", run.ID,
		"status", status,
		"duration", run.Duration(),
	)
}

// failRun помечает run как FAILED до начала выполнения шагов.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, reason string) error {
	o.logger.Warn("run failed before execution",
		"run_id", run.ID,
		"reason", reason,
	)

	run.MarkFailed(reason)
	if err := o.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}

	if o.publisher != nil {
		err := o.publisher.PublishRunCompleted(ctx, mq.RunCompletedPayload{
			RunID:        run.ID,
			PipelineName: run.PipelineName,
			Status:       string(domain.RunStatusFailed),
			Error:        reason,
		})
		if err != nil {
			o.logger.Warn("failed to publish run.completed", "run_id", run.ID, "error", err)
		}
	}

	return nil
}
