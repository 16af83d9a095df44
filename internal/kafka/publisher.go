// Package kafka публикует доменные события в топик для внешних потребителей.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
)

// MessageWriter часть kafka.Writer, нужная публикатору.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher подписчик шины: одно событие, одно сообщение. Ключ сообщения
// идентификатор агрегата, поэтому события заказа попадают в одну партицию
// и читаются по порядку.
type Publisher struct {
	w MessageWriter
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Handle(ctx context.Context, ev event.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID().String()),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID.String())},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
