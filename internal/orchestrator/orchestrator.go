package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/remote"
	"github.com/shaiso/Trellis/internal/repo"
	"github.com/shaiso/Trellis/internal/scheduler"
)

// Default configuration values.
const (
	defaultPollInterval     = 10 * time.Second
	defaultScheduleInterval = 30 * time.Second
	defaultBatchSize        = 100
)

// Orchestrator управляет выполнением runs.
type Orchestrator struct {
	// Repositories
	runRepo      *repo.RunRepo
	stepRepo     *repo.StepRepo
	pipelineRepo *repo.PipelineRepo
	scheduleRepo *repo.ScheduleRepo

	// MQ (опционально: без него остаётся polling fallback)
	publisher *mq.Publisher
	conn      *mq.Connection

	// Выполнение
	adapter remote.Adapter
	sched   *scheduler.Scheduler

	// Active runs — выполняющиеся runs (runID → cancel)
	activeRuns map[uuid.UUID]context.CancelFunc
	mu         sync.RWMutex

	runConsumer    *mq.Consumer
	cancelConsumer *mq.Consumer

	// Configuration
	pollInterval     time.Duration
	scheduleInterval time.Duration
	batchSize        int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	RunRepo      *repo.RunRepo
	StepRepo     *repo.StepRepo
	PipelineRepo *repo.PipelineRepo
	ScheduleRepo *repo.ScheduleRepo

	// MQ (опционально)
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Adapter — адаптер удалённой платформы (обязателен).
	Adapter remote.Adapter

	// MaxConcurrency — лимит одновременных шагов на run.
	MaxConcurrency int

	// StepPollInterval — интервал опроса статусов job'ов.
	StepPollInterval time.Duration

	// PollInterval — интервал polling fallback по БД (default: 10s).
	PollInterval time.Duration

	// ScheduleInterval — интервал проверки расписаний (default: 30s).
	ScheduleInterval time.Duration

	// BatchSize — количество runs за один poll (default: 100).
	BatchSize int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	scheduleInterval := cfg.ScheduleInterval
	if scheduleInterval <= 0 {
		scheduleInterval = defaultScheduleInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		runRepo:          cfg.RunRepo,
		stepRepo:         cfg.StepRepo,
		pipelineRepo:     cfg.PipelineRepo,
		scheduleRepo:     cfg.ScheduleRepo,
		publisher:        cfg.Publisher,
		conn:             cfg.Conn,
		adapter:          cfg.Adapter,
		activeRuns:       make(map[uuid.UUID]context.CancelFunc),
		pollInterval:     pollInterval,
		scheduleInterval: scheduleInterval,
		batchSize:        batchSize,
		logger:           logger,
	}

	o.sched = scheduler.New(scheduler.Config{
		Adapter:        cfg.Adapter,
		MaxConcurrency: cfg.MaxConcurrency,
		PollInterval:   cfg.StepPollInterval,
		Recorder:       newRecorder(cfg.StepRepo, cfg.Publisher, logger),
		Logger:         logger,
	})

	return o
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumers для runs.requested и runs.cancel_requested (если настроен MQ)
//   - Polling горутину для fallback
//   - Горутину проверки расписаний
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"schedule_interval", o.scheduleInterval,
		"batch_size", o.batchSize,
	)

	if o.conn != nil {
		o.runConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsRequested),
			Handler:  o.handleRunRequested,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("run consumer error", "error", err)
			}
		}()

		o.cancelConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRunsCancelRequested),
			Handler:  o.handleCancelRequested,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.cancelConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("cancel consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	if o.scheduleRepo != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.scheduleLoop(ctx)
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator: отменяет активные runs и ждёт горутины.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	// Контексты runs отвязаны от контекста Start, поэтому каждый
	// активный run отменяется явно — без этого wg.Wait() ждал бы
	// естественного завершения remote jobs.
	o.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(o.activeRuns))
	for _, cancel := range o.activeRuns {
		cancels = append(cancels, cancel)
	}
	o.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// CancelRun запрашивает отмену выполняющегося run.
func (o *Orchestrator) CancelRun(runID uuid.UUID) error {
	o.mu.RLock()
	cancel, exists := o.activeRuns[runID]
	o.mu.RUnlock()

	if !exists {
		return ErrRunNotActive
	}

	o.logger.Info("cancelling run", "run_id", runID)
	cancel()
	return nil
}

// ActiveRuns возвращает количество выполняющихся runs.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// pollLoop — цикл polling fallback: подхватывает PENDING runs из БД.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.runRepo.ListPending(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if o.isRunActive(run.ID) {
			continue
		}

		if err := o.processRun(ctx, run.ID); err != nil {
			if errors.Is(err, ErrRunNotPending) || errors.Is(err, ErrRunAlreadyActive) {
				continue
			}
			o.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, выполняется ли run этим оркестратором.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeRuns[runID]
	return exists
}

// addActiveRun регистрирует выполняющийся run.
func (o *Orchestrator) addActiveRun(runID uuid.UUID, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[runID]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[runID] = cancel
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}
