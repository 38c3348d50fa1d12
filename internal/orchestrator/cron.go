package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shaiso/Trellis/internal/domain"
	"github.com/shaiso/Trellis/internal/repo"
)

// cronParser — парсер cron-выражений (стандартные 5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время запуска для schedule.
// Учитывает timezone schedule; результат — в UTC для хранения в БД.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}

	fromInTz := from.In(loc)

	if sched.IsCron() {
		expr, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return expr.Next(fromInTz).UTC(), nil
	}

	if sched.IsInterval() {
		return fromInTz.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, ErrScheduleInvalid
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// scheduleLoop — цикл проверки расписаний.
func (o *Orchestrator) scheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(o.scheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tickSchedules(ctx)
		}
	}
}

// tickSchedules создаёт runs для расписаний, которым пора запускаться.
func (o *Orchestrator) tickSchedules(ctx context.Context) {
	now := time.Now()

	due, err := o.scheduleRepo.ListDue(ctx, now)
	if err != nil {
		o.logger.Error("failed to list due schedules", "error", err)
		return
	}

	for i := range due {
		if err := o.fireSchedule(ctx, &due[i], now); err != nil {
			o.logger.Error("failed to fire schedule",
				"schedule_id", due[i].ID,
				"error", err,
			)
		}
	}
}

// fireSchedule создаёт run для сработавшего расписания.
//
// Ключ идемпотентности "{schedule_id}_{next_due_at}" гарантирует,
// что одно срабатывание создаст ровно один run, даже если несколько
// оркестраторов обрабатывают расписания одновременно.
func (o *Orchestrator) fireSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	key := fmt.Sprintf("%s_%s", sched.ID, sched.NextDueAt.UTC().Format(time.RFC3339))

	existing, err := o.runRepo.GetByIdempotencyKey(ctx, sched.PipelineID, key)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("check idempotency: %w", err)
	}

	if existing == nil {
		run := &domain.Run{
			ID:             uuid.New(),
			PipelineID:     sched.PipelineID,
			Status:         domain.RunStatusPending,
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := o.runRepo.Create(ctx, run); err != nil {
			// Уникальность ключа идемпотентности закрывает гонку между
			// оркестраторами: проигравший уступает обновление расписания.
			if errors.Is(err, repo.ErrAlreadyExists) {
				o.logger.Debug("scheduled run already created elsewhere",
					"schedule_id", sched.ID,
				)
				return nil
			}
			return fmt.Errorf("create scheduled run: %w", err)
		}

		if o.publisher != nil {
			if err := o.publisher.PublishRunRequested(ctx, run.ID, run.PipelineID); err != nil {
				// Polling fallback подхватит run даже без события
				o.logger.Warn("failed to publish run.requested",
					"run_id", run.ID,
					"error", err,
				)
			}
		}

		existing = run
		o.logger.Info("scheduled run created",
			"schedule_id", sched.ID,
			"run_id", run.ID,
			"pipeline_id", sched.PipelineID,
		)
	}

	next, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}

	sched.RecordRun(existing.ID, next)
	if err := o.scheduleRepo.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}

	return nil
}
