package mq

import "errors"

// Ошибки пакета mq.
var (
	// ErrBadPayload — payload сообщения не соответствует ожидаемой схеме.
	// Повторная доставка такого сообщения бессмысленна: consumer
	// отправляет его в DLQ вместо requeue.
	ErrBadPayload = errors.New("bad message payload")
)
