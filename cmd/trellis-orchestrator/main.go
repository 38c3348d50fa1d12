// Trellis Orchestrator — выполняет runs ML-пайплайнов.
//
// Orchestrator:
//   - Получает запросы на запуск из RabbitMQ (с polling fallback по БД)
//   - Валидирует spec и строит DAG
//   - Диспетчеризует шаги на удалённую платформу
//   - Создаёт runs по расписаниям
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Trellis/internal/config"
	"github.com/shaiso/Trellis/internal/mq"
	"github.com/shaiso/Trellis/internal/orchestrator"
	"github.com/shaiso/Trellis/internal/remote"
	"github.com/shaiso/Trellis/internal/repo"
	"github.com/shaiso/Trellis/internal/telemetry"
)

const simLatency = 2 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting trellis-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	stepRepo := repo.NewStepRepo(pool)
	pipelineRepo := repo.NewPipelineRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ (опционально)
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	if cfg.MQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, running in polling-only mode")
	} else {
		mqConn, err = mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Адаптер удалённой платформы
	var adapter remote.Adapter
	if cfg.Platform.BaseURL == "" {
		logger.Info("TRELLIS_PLATFORM_URL not set, using simulation adapter")
		adapter = remote.NewSim(simLatency)
	} else {
		adapter = remote.NewPlatform(remote.PlatformConfig{
			BaseURL:        cfg.Platform.BaseURL,
			PollRetries:    cfg.Platform.PollRetries,
			PollRetryDelay: cfg.Platform.PollRetryDelay,
			Logger:         logger,
		})
		logger.Info("platform adapter configured", "base_url", cfg.Platform.BaseURL)
	}

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		RunRepo:          runRepo,
		StepRepo:         stepRepo,
		PipelineRepo:     pipelineRepo,
		ScheduleRepo:     scheduleRepo,
		Publisher:        publisher,
		Conn:             mqConn,
		Adapter:          adapter,
		MaxConcurrency:   cfg.Scheduler.MaxConcurrency,
		StepPollInterval: cfg.Scheduler.StepPollInterval,
		PollInterval:     cfg.Scheduler.RunPollInterval,
		ScheduleInterval: cfg.Scheduler.ScheduleInterval,
		Logger:           logger,
	})

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем orchestrator
	orch.Stop()
	logger.Info("trellis-orchestrator stopped")
}
