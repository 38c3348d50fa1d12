package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ackRecorder фиксирует исход доставки.
type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackRecorder) Ack(_ uint64, _ bool) error {
	a.acked = true
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func newTestConsumer(handler Handler) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(nil, logger, ConsumerConfig{
		Queue:   "test",
		Handler: handler,
	})
}

func encodeMessage(t *testing.T, msg Message) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return body
}

func TestDispatch_AcksHandledMessage(t *testing.T) {
	c := newTestConsumer(func(context.Context, *Delivery) error { return nil })
	acker := &ackRecorder{}

	c.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acker,
		Body:         encodeMessage(t, Message{ID: "m1", Type: MessageTypeRunRequested}),
	})

	if !acker.acked {
		t.Error("handled message must be acked")
	}
}

func TestDispatch_UndecodableGoesToDLQ(t *testing.T) {
	c := newTestConsumer(func(context.Context, *Delivery) error { return nil })
	acker := &ackRecorder{}

	c.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte("not json"),
	})

	if !acker.nacked || acker.requeue {
		t.Errorf("undecodable message must be nacked without requeue, got nacked=%v requeue=%v",
			acker.nacked, acker.requeue)
	}
}

func TestDispatch_BadPayloadGoesToDLQ(t *testing.T) {
	c := newTestConsumer(func(_ context.Context, d *Delivery) error {
		_, err := ParsePayload[RunRequestedPayload](&d.Message)
		return err
	})
	acker := &ackRecorder{}

	c.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acker,
		Body: encodeMessage(t, Message{
			ID:        "m1",
			Type:      MessageTypeRunRequested,
			Payload:   map[string]any{"run_id": "not-a-uuid"},
			Timestamp: time.Now(),
		}),
	})

	if !acker.nacked || acker.requeue {
		t.Errorf("unparseable payload must be nacked without requeue, got nacked=%v requeue=%v",
			acker.nacked, acker.requeue)
	}
}

func TestDispatch_TransientHandlerErrorRequeues(t *testing.T) {
	c := newTestConsumer(func(context.Context, *Delivery) error {
		return fmt.Errorf("database unavailable")
	})
	acker := &ackRecorder{}

	c.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acker,
		Body:         encodeMessage(t, Message{ID: "m1", Type: MessageTypeRunRequested}),
	})

	if !acker.nacked || !acker.requeue {
		t.Errorf("handler failure must requeue the message, got nacked=%v requeue=%v",
			acker.nacked, acker.requeue)
	}
}

func TestParsePayload(t *testing.T) {
	runID := uuid.New()
	msg := Message{
		Type:    MessageTypeRunRequested,
		Payload: map[string]any{"run_id": runID.String(), "pipeline_id": uuid.New().String()},
	}

	payload, err := ParsePayload[RunRequestedPayload](&msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.RunID != runID {
		t.Errorf("got %s, want %s", payload.RunID, runID)
	}
}

func TestParsePayload_ShapeMismatch(t *testing.T) {
	msg := Message{
		Type:    MessageTypeRunRequested,
		Payload: map[string]any{"run_id": 42},
	}

	_, err := ParsePayload[RunRequestedPayload](&msg)
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload, got %v", err)
	}
}
