package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type IntentState string

const (
	IntentStateInitiated IntentState = "initiated"
	IntentStateConfirmed IntentState = "confirmed"
	IntentStateFailed    IntentState = "failed"
	IntentStateRefunded  IntentState = "refunded"
)

// PaymentIntent связывает заказ с платежом во внешнем шлюзе.
type PaymentIntent struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	GatewayReference string
	State            IntentState
	Amount           valueobject.Money
	Method           string
	RedirectURL      string
	LastPayloadHash  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewPaymentIntent(orderID uuid.UUID, amount valueobject.Money, method string, now time.Time) *PaymentIntent {
	if method == "" {
		method = "card"
	}
	return &PaymentIntent{
		ID:        uuid.New(),
		OrderID:   orderID,
		State:     IntentStateInitiated,
		Amount:    amount,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *PaymentIntent) IsFinal() bool {
	return p.State != IntentStateInitiated
}

func (p *PaymentIntent) Transition(state IntentState, payloadHash string, now time.Time) {
	p.State = state
	if payloadHash != "" {
		p.LastPayloadHash = payloadHash
	}
	p.UpdatedAt = now
}

// GatewayEvent запись о применённом событии шлюза для защиты от повторов.
type GatewayEvent struct {
	Reference   string
	EventType   string
	PayloadHash string
	ReceivedAt  time.Time
}
