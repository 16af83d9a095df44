package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Handle(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	ev := event.New(event.OrderPaid, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	ev.OrderID = uuid.New()
	ev.BuyerID = uuid.New()
	require.NoError(t, p.Handle(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, ev.OrderID.String(), string(msg.Key), "ключ сообщения идентификатор заказа")
	assert.Equal(t, ev.OccurredAt, msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "event_type", Value: []byte("order.paid")},
		{Key: "event_id", Value: []byte(ev.ID.String())},
	}, msg.Headers)

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.BuyerID, decoded.BuyerID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WithdrawalKeyAndError(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	ev := event.New(event.WithdrawalSettled, time.Now())
	ev.WithdrawalID = uuid.New()
	ev.UserID = uuid.New()
	require.NoError(t, p.Handle(context.Background(), ev))
	assert.Equal(t, ev.WithdrawalID.String(), string(w.msgs[0].Key))

	w.err = errors.New("leader not available")
	err := p.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, w.err)
	assert.Equal(t, "kafka", p.Name())
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"localhost:9092"}, "escrow.events")
	assert.Equal(t, "escrow.events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
