package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Order агрегат заказа. Меняется только через методы переходов ниже.
type Order struct {
	ID       uuid.UUID
	BuyerID  uuid.UUID
	SellerID uuid.UUID

	GigID       *uuid.UUID
	PackageTier string
	ProposalID  *uuid.UUID

	Title        string
	Description  string
	Requirements string

	QuotedPrice     valueobject.Money
	SettlementPrice valueobject.Money
	FeeRate         valueobject.FeeRate
	DeliveryDays    int

	Status        valueobject.OrderStatus
	PaymentStatus valueobject.PaymentStatus

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	DeliveredAt *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	DisputedAt  *time.Time
	UpdatedAt   time.Time

	EscrowReleased     bool
	AutoAcceptDeadline *time.Time
	RevisionBudget     int
	RevisionsUsed      int
	DisputeID          *uuid.UUID

	Version int
}

// Offer снимок продаваемого пакета или принятого отклика на момент оформления.
type Offer struct {
	SellerID     uuid.UUID
	GigID        *uuid.UUID
	PackageTier  string
	ProposalID   *uuid.UUID
	Title        string
	Description  string
	Price        valueobject.Money
	DeliveryDays int
	Revisions    int
}

type NewOrderParams struct {
	BuyerID         uuid.UUID
	Offer           Offer
	Requirements    string
	SettlementPrice valueobject.Money
	FeeRate         valueobject.FeeRate
	Now             time.Time
}

func NewOrder(p NewOrderParams) (*Order, error) {
	if p.BuyerID == uuid.Nil || p.Offer.SellerID == uuid.Nil {
		return nil, apperror.New(apperror.ErrCodeValidation, "покупатель и продавец обязательны")
	}
	if p.BuyerID == p.Offer.SellerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "нельзя заказать собственную услугу")
	}
	if (p.Offer.GigID == nil) == (p.Offer.ProposalID == nil) {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказ ссылается либо на пакет услуги, либо на отклик")
	}
	if strings.TrimSpace(p.Offer.Title) == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название заказа обязательно")
	}
	if !p.Offer.Price.IsPositive() || !p.SettlementPrice.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена заказа должна быть положительной")
	}
	if p.Offer.DeliveryDays <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "срок выполнения должен быть положительным")
	}
	if p.Offer.Revisions < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "количество правок не может быть отрицательным")
	}

	return &Order{
		ID:              uuid.New(),
		BuyerID:         p.BuyerID,
		SellerID:        p.Offer.SellerID,
		GigID:           p.Offer.GigID,
		PackageTier:     p.Offer.PackageTier,
		ProposalID:      p.Offer.ProposalID,
		Title:           p.Offer.Title,
		Description:     p.Offer.Description,
		Requirements:    p.Requirements,
		QuotedPrice:     p.Offer.Price,
		SettlementPrice: p.SettlementPrice.Round(),
		FeeRate:         p.FeeRate,
		DeliveryDays:    p.Offer.DeliveryDays,
		Status:          valueobject.OrderStatusPending,
		PaymentStatus:   valueobject.PaymentStatusAwaiting,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
		RevisionBudget:  p.Offer.Revisions,
	}, nil
}

// Fee комиссия платформы в валюте расчётов.
func (o *Order) Fee() valueobject.Money {
	return o.FeeRate.FeeOf(o.SettlementPrice)
}

// SellerNet сумма, которую продавец получает при полном завершении.
func (o *Order) SellerNet() valueobject.Money {
	return o.SettlementPrice.Sub(o.Fee())
}

func (o *Order) IsParty(userID uuid.UUID) bool {
	return o.BuyerID == userID || o.SellerID == userID
}

// DeliveryDue крайний срок сдачи работы.
func (o *Order) DeliveryDue() *time.Time {
	if o.AcceptedAt == nil {
		return nil
	}
	due := o.AcceptedAt.Add(time.Duration(o.DeliveryDays) * 24 * time.Hour)
	return &due
}

func (o *Order) ConfirmPayment(now time.Time) error {
	if o.Status != valueobject.OrderStatusPending || o.PaymentStatus != valueobject.PaymentStatusAwaiting {
		return o.invalid("подтвердить оплату")
	}
	o.Status = valueobject.OrderStatusInProgress
	o.PaymentStatus = valueobject.PaymentStatusPaid
	o.AcceptedAt = timePtr(now)
	o.UpdatedAt = now
	return nil
}

// FailPayment отменяет неоплаченный заказ после отказа шлюза или таймаута.
func (o *Order) FailPayment(now time.Time) error {
	if o.Status != valueobject.OrderStatusPending || o.PaymentStatus == valueobject.PaymentStatusPaid {
		return o.invalid("отменить по неуспешной оплате")
	}
	o.Status = valueobject.OrderStatusCancelled
	o.PaymentStatus = valueobject.PaymentStatusFailed
	o.CancelledAt = timePtr(now)
	o.UpdatedAt = now
	return nil
}

// Deliver первая сдача (из in_progress) или повторная после запроса правок.
func (o *Order) Deliver(now time.Time, allowLate bool, autoAcceptAfter time.Duration) error {
	switch {
	case o.Status.IsWorking():
		if due := o.DeliveryDue(); !allowLate && due != nil && now.After(*due) {
			return apperror.New(apperror.ErrCodeInvalidStateTransition, "срок сдачи истёк, поздняя сдача запрещена")
		}
	case o.Status == valueobject.OrderStatusRevisionRequested:
	default:
		return o.invalid("сдать работу")
	}
	o.Status = valueobject.OrderStatusDelivered
	o.DeliveredAt = timePtr(now)
	o.AutoAcceptDeadline = timePtr(now.Add(autoAcceptAfter))
	o.UpdatedAt = now
	return nil
}

func (o *Order) Accept(now time.Time) error {
	if o.Status != valueobject.OrderStatusDelivered {
		return o.invalid("принять работу")
	}
	o.complete(now)
	return nil
}

func (o *Order) RequestRevision(now time.Time) error {
	if o.Status != valueobject.OrderStatusDelivered {
		return o.invalid("запросить правки")
	}
	if o.RevisionsUsed >= o.RevisionBudget {
		return apperror.New(apperror.ErrCodeInvalidStateTransition, "лимит правок исчерпан")
	}
	o.Status = valueobject.OrderStatusRevisionRequested
	o.RevisionsUsed++
	o.AutoAcceptDeadline = nil
	o.UpdatedAt = now
	return nil
}

// AutoAccept срабатывает только для delivered с наступившим дедлайном,
// поэтому повторный прогон по тому же заказу ничего не меняет.
func (o *Order) AutoAccept(now time.Time) error {
	if o.Status != valueobject.OrderStatusDelivered || o.AutoAcceptDeadline == nil || now.Before(*o.AutoAcceptDeadline) {
		return o.invalid("автоматически принять работу")
	}
	o.complete(now)
	return nil
}

func (o *Order) OpenDispute(now time.Time, disputeID uuid.UUID) error {
	switch o.Status {
	case valueobject.OrderStatusAccepted, valueobject.OrderStatusInProgress,
		valueobject.OrderStatusDelivered, valueobject.OrderStatusRevisionRequested:
	default:
		return o.invalid("открыть спор")
	}
	o.Status = valueobject.OrderStatusDisputed
	o.DisputedAt = timePtr(now)
	o.DisputeID = &disputeID
	// таймеры заморожены на время спора
	o.AutoAcceptDeadline = nil
	o.UpdatedAt = now
	return nil
}

func (o *Order) ResolveForBuyer(now time.Time) error {
	if o.Status != valueobject.OrderStatusDisputed {
		return o.invalid("вернуть деньги покупателю")
	}
	o.refund(now)
	return nil
}

func (o *Order) ResolveForSeller(now time.Time) error {
	if o.Status != valueobject.OrderStatusDisputed {
		return o.invalid("закрыть спор в пользу продавца")
	}
	o.complete(now)
	return nil
}

func (o *Order) ResolveSplit(now time.Time, ratio decimal.Decimal) error {
	if o.Status != valueobject.OrderStatusDisputed {
		return o.invalid("разделить сумму спора")
	}
	if !ratio.IsPositive() || ratio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return apperror.New(apperror.ErrCodeValidation, "доля продавца должна быть в интервале (0, 1)")
	}
	o.complete(now)
	return nil
}

// CancelPolicy условия отмены оплаченного заказа до начала работы.
type CancelPolicy struct {
	FreeCancelWindow time.Duration
}

// Cancel возвращает true, если заказ был оплачен и нужен возврат средств.
// Неоплаченный заказ отменяет покупатель. Оплаченный отменяется возвратом, если
// отмену инициирует продавец (согласие) либо покупатель в окне бесплатной
// отмены до первой сдачи.
func (o *Order) Cancel(now time.Time, actorID uuid.UUID, policy CancelPolicy) (bool, error) {
	switch {
	case o.Status == valueobject.OrderStatusPending:
		if actorID != o.BuyerID {
			return false, apperror.New(apperror.ErrCodeForbidden, "отменить неоплаченный заказ может только покупатель")
		}
		if o.PaymentStatus == valueobject.PaymentStatusPaid {
			return false, o.invalid("отменить заказ")
		}
		o.Status = valueobject.OrderStatusCancelled
		o.CancelledAt = timePtr(now)
		o.UpdatedAt = now
		return false, nil
	case o.Status.IsWorking():
		if !o.cancellableBy(now, actorID, policy) {
			return false, apperror.New(apperror.ErrCodeInvalidStateTransition, "отмена требует согласия продавца")
		}
		o.refund(now)
		return true, nil
	default:
		return false, o.invalid("отменить заказ")
	}
}

func (o *Order) cancellableBy(now time.Time, actorID uuid.UUID, policy CancelPolicy) bool {
	if actorID == o.SellerID {
		return true
	}
	if actorID != o.BuyerID || o.DeliveredAt != nil || o.AcceptedAt == nil {
		return false
	}
	return !now.After(o.AcceptedAt.Add(policy.FreeCancelWindow))
}

// CheckInvariants проверяет инварианты, не требующие чтения журнала.
func (o *Order) CheckInvariants() error {
	fail := func(msg string) error {
		return apperror.New(apperror.ErrCodeInternal, "нарушен инвариант заказа: "+msg)
	}
	if o.RevisionsUsed > o.RevisionBudget {
		return fail("revisions_used > revision_budget")
	}
	if o.DeliveredAt != nil && o.CompletedAt != nil && o.DeliveredAt.After(*o.CompletedAt) {
		return fail("delivered_at позже completed_at")
	}
	if o.Status.HoldsEscrow() || o.Status == valueobject.OrderStatusPending {
		if o.EscrowReleased {
			return fail("escrow_released до завершения")
		}
	}
	if o.Status.HoldsEscrow() && o.PaymentStatus != valueobject.PaymentStatusPaid {
		return fail("работа без оплаты")
	}
	switch o.Status {
	case valueobject.OrderStatusCompleted:
		if !o.EscrowReleased || o.PaymentStatus != valueobject.PaymentStatusPaid || o.CompletedAt == nil {
			return fail("completed без выплаты из эскроу")
		}
	case valueobject.OrderStatusCancelled:
		if o.PaymentStatus == valueobject.PaymentStatusPaid {
			return fail("cancelled с удержанными средствами")
		}
	case valueobject.OrderStatusRefunded:
		if o.PaymentStatus != valueobject.PaymentStatusRefunded {
			return fail("refunded без возврата оплаты")
		}
	}
	return nil
}

func (o *Order) complete(now time.Time) {
	o.Status = valueobject.OrderStatusCompleted
	o.EscrowReleased = true
	o.CompletedAt = timePtr(now)
	o.AutoAcceptDeadline = nil
	o.UpdatedAt = now
}

func (o *Order) refund(now time.Time) {
	o.Status = valueobject.OrderStatusRefunded
	o.PaymentStatus = valueobject.PaymentStatusRefunded
	o.CancelledAt = timePtr(now)
	o.AutoAcceptDeadline = nil
	o.UpdatedAt = now
}

func (o *Order) invalid(action string) error {
	return apperror.Newf(apperror.ErrCodeInvalidStateTransition,
		"невозможно %s: заказ в статусе %s (оплата %s)", action, o.Status, o.PaymentStatus)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
