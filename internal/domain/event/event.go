package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type Type string

const (
	OrderPlaced            Type = "order.placed"
	OrderPaid              Type = "order.paid"
	OrderDelivered         Type = "order.delivered"
	OrderRevisionRequested Type = "order.revision_requested"
	OrderCompleted         Type = "order.completed"
	OrderCancelled         Type = "order.cancelled"
	OrderRefunded          Type = "order.refunded"
	OrderDisputed          Type = "order.disputed"
	DisputeResolved        Type = "dispute.resolved"
	WithdrawalRequested    Type = "withdrawal.requested"
	WithdrawalSettled      Type = "withdrawal.settled"
	WithdrawalFailed       Type = "withdrawal.failed"
	WithdrawalCancelled    Type = "withdrawal.cancelled"
	LedgerDriftDetected    Type = "ledger.drift_detected"
)

// Event доменное событие. Публикуется только после коммита транзакции.
type Event struct {
	ID           uuid.UUID            `json:"id"`
	Type         Type                 `json:"type"`
	OccurredAt   time.Time            `json:"occurred_at"`
	OrderID      uuid.UUID            `json:"order_id,omitempty"`
	WithdrawalID uuid.UUID            `json:"withdrawal_id,omitempty"`
	DisputeID    uuid.UUID            `json:"dispute_id,omitempty"`
	BuyerID      uuid.UUID            `json:"buyer_id,omitempty"`
	SellerID     uuid.UUID            `json:"seller_id,omitempty"`
	UserID       uuid.UUID            `json:"user_id,omitempty"`
	Amount       decimal.Decimal      `json:"amount"`
	Fee          decimal.Decimal      `json:"fee"`
	Currency     valueobject.Currency `json:"currency,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

func New(t Type, now time.Time) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: now}
}

// AggregateID идентификатор, по которому события упорядочиваются у подписчиков.
func (e Event) AggregateID() uuid.UUID {
	switch {
	case e.OrderID != uuid.Nil:
		return e.OrderID
	case e.WithdrawalID != uuid.Nil:
		return e.WithdrawalID
	default:
		return e.UserID
	}
}

// Recipients пользователи, которых касается событие.
func (e Event) Recipients() []uuid.UUID {
	var out []uuid.UUID
	for _, id := range []uuid.UUID{e.BuyerID, e.SellerID, e.UserID} {
		if id == uuid.Nil {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}

// Publisher рассылает события подписчикам. Ошибки подписчиков не возвращаются.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Discard публикатор без подписчиков.
type Discard struct{}

func (Discard) Publish(context.Context, ...Event) {}
