// Package telemetry — наблюдаемость Trellis.
//
// Структурированное логирование через slog (формат и уровень
// задаются переменными LOG_FORMAT и LOG_LEVEL) и Prometheus-метрики
// выполнения runs и шагов. Оркестратор отдаёт метрики на /metrics.
package telemetry
