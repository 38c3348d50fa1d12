// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.requested        — запрошен запуск пайплайна
//   - run.cancel_requested — запрошена отмена выполняющегося run
//   - run.completed        — run завершён (итоговый статус)
//   - step.completed       — шаг достиг финального статуса
//
// Exchanges:
//   - trellis.runs   — запросы запуска и отмены
//   - trellis.events — события выполнения
//   - trellis.dlq    — dead letter queue
package mq
