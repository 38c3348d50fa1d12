package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/repo"
	"github.com/shaiso/Trellis/internal/scheduler"
	"github.com/shaiso/Trellis/internal/telemetry"
)

// Таймауты записи, не привязанной к контексту run.
const (
	recordTimeout   = 5 * time.Second
	finalizeTimeout = 10 * time.Second
)

// runRecorder сохраняет переходы состояний шагов в БД
// и публикует события о финальных статусах.
//
// Ошибки записи логируются, но не прерывают выполнение run:
// источник истины о ходе выполнения — планировщик, БД лишь отражает его.
type runRecorder struct {
	stepRepo  *repo.StepRepo
	publisher *mq.Publisher
	logger    *slog.Logger
}

// newRecorder создаёт Recorder. Возвращает nil, если записывать некуда.
func newRecorder(stepRepo *repo.StepRepo, publisher *mq.Publisher, logger *slog.Logger) scheduler.Recorder {
	if stepRepo == nil && publisher == nil {
		return nil
	}
	return &runRecorder{
		stepRepo:  stepRepo,
		publisher: publisher,
		logger:    logger,
	}
}

// StepUpdated реализует scheduler.Recorder.
func (r *runRecorder) StepUpdated(ctx context.Context, runID uuid.UUID, state domain.StepState) {
	// Контекст run может быть уже отменён — запись идёт со своим таймаутом.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	logger := telemetry.WithStep(telemetry.WithRunID(r.logger, runID.String()), state.StepName)

	if r.stepRepo != nil {
		if err := r.stepRepo.Upsert(ctx, runID, &state); err != nil {
			logger.Warn("failed to persist step state",
				"status", state.Status,
				"error", err,
			)
		}
	}

	if r.publisher != nil && state.Status.IsTerminal() {
		err := r.publisher.PublishStepCompleted(ctx, mq.StepCompletedPayload{
			RunID:          runID,
			StepName:       state.StepName,
			Status:         string(state.Status),
			Attempts:       state.Attempts,
			JobID:          state.JobID,
			Error:          state.Error,
			SkippedBecause: state.SkippedBecause,
		})
		if err != nil {
			logger.Warn("failed to publish step.completed", "error", err)
		}
	}
}
