package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested       MessageType = "run.requested"
	MessageTypeRunCancelRequested MessageType = "run.cancel_requested"
	MessageTypeRunCompleted       MessageType = "run.completed"
	MessageTypeStepCompleted      MessageType = "step.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunRequestedPayload — payload запроса запуска пайплайна.
type RunRequestedPayload struct {
	RunID      uuid.UUID `json:"run_id"`
	PipelineID uuid.UUID `json:"pipeline_id"`
}

// RunCancelRequestedPayload — payload запроса отмены выполняющегося run.
type RunCancelRequestedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunCompletedPayload — payload события завершения run.
type RunCompletedPayload struct {
	RunID        uuid.UUID `json:"run_id"`
	PipelineName string    `json:"pipeline_name"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	DurationSec  float64   `json:"duration_sec"`
}

// StepCompletedPayload — payload события финального статуса шага.
type StepCompletedPayload struct {
	RunID          uuid.UUID `json:"run_id"`
	StepName       string    `json:"step_name"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	JobID          string    `json:"job_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	SkippedBecause string    `json:"skipped_because,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch := p.conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	err = ch.PublishWithContext(
		ctx,
		string(exchange),   // exchange
		string(routingKey), // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
	}

	p.logger.Debug("published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)

	return nil
}

// PublishRunRequested публикует запрос на запуск пайплайна.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunRequested(ctx context.Context, runID, pipelineID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunRequested,
		Payload:   RunRequestedPayload{RunID: runID, PipelineID: pipelineID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishRunCancelRequested публикует запрос на отмену run.
// Потребитель: Orchestrator, выполняющий этот run.
func (p *Publisher) PublishRunCancelRequested(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunCancelRequested,
		Payload:   RunCancelRequestedPayload{RunID: runID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyCancelRequested, msg)
}

// PublishRunCompleted публикует событие завершения run.
func (p *Publisher) PublishRunCompleted(ctx context.Context, payload RunCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunCompleted, msg)
}

// PublishStepCompleted публикует событие финального статуса шага.
func (p *Publisher) PublishStepCompleted(ctx context.Context, payload StepCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStepCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyStepCompleted, msg)
}
