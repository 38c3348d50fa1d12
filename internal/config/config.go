// Package config — конфигурация сервисов из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config — конфигурация оркестратора Trellis.
type Config struct {
	// MetricsPort — порт HTTP-сервера /metrics и /healthz.
	MetricsPort int `env:"TRELLIS_METRICS_PORT" envDefault:"9102"`

	// Platform — адаптер удалённой платформы.
	Platform PlatformConfig

	// MQ — RabbitMQ.
	MQ MQConfig

	// Scheduler — параметры выполнения runs.
	Scheduler SchedulerConfig
}

// PlatformConfig — настройки платформы обучения.
type PlatformConfig struct {
	// BaseURL — адрес API платформы. Пустой — режим симуляции.
	BaseURL string `env:"TRELLIS_PLATFORM_URL"`

	// PollRetries — внутренние повторы опроса при транспортных ошибках.
	PollRetries int `env:"TRELLIS_PLATFORM_POLL_RETRIES" envDefault:"3"`

	// PollRetryDelay — задержка между внутренними повторами.
	PollRetryDelay time.Duration `env:"TRELLIS_PLATFORM_POLL_RETRY_DELAY" envDefault:"2s"`
}

// MQConfig — настройки RabbitMQ.
type MQConfig struct {
	// URL — адрес RabbitMQ. Пустой — работа без MQ (только polling).
	URL string `env:"RABBITMQ_URL"`
}

// SchedulerConfig — параметры выполнения runs.
type SchedulerConfig struct {
	// MaxConcurrency — максимум одновременно RUNNING шагов на run.
	MaxConcurrency int `env:"TRELLIS_MAX_CONCURRENCY" envDefault:"4"`

	// StepPollInterval — интервал опроса статусов job'ов.
	StepPollInterval time.Duration `env:"TRELLIS_STEP_POLL_INTERVAL" envDefault:"5s"`

	// RunPollInterval — интервал polling fallback по БД.
	RunPollInterval time.Duration `env:"TRELLIS_RUN_POLL_INTERVAL" envDefault:"10s"`

	// ScheduleInterval — интервал проверки расписаний.
	ScheduleInterval time.Duration `env:"TRELLIS_SCHEDULE_INTERVAL" envDefault:"30s"`
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
