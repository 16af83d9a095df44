package valueobject

import "github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"

type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusAccepted          OrderStatus = "accepted"
	OrderStatusInProgress        OrderStatus = "in_progress"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusRevisionRequested OrderStatus = "revision_requested"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// orderTransitions допустимые переходы статусов. Статус accepted остался от
// старых данных и ведёт себя как in_progress.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:           {OrderStatusInProgress, OrderStatusCancelled},
	OrderStatusAccepted:          {OrderStatusDelivered, OrderStatusDisputed, OrderStatusRefunded},
	OrderStatusInProgress:        {OrderStatusDelivered, OrderStatusDisputed, OrderStatusRefunded},
	OrderStatusDelivered:         {OrderStatusCompleted, OrderStatusRevisionRequested, OrderStatusDisputed},
	OrderStatusRevisionRequested: {OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusDisputed:          {OrderStatusRefunded, OrderStatusCompleted},
	OrderStatusCompleted:         {},
	OrderStatusCancelled:         {},
	OrderStatusRefunded:          {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	for _, status := range orderTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(orderTransitions[s]) == 0
}

// IsWorking true для статусов, в которых исполнитель ведёт работу.
func (s OrderStatus) IsWorking() bool {
	return s == OrderStatusInProgress || s == OrderStatusAccepted
}

// HoldsEscrow true, пока деньги заказа лежат в эскроу платформы.
func (s OrderStatus) HoldsEscrow() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusInProgress, OrderStatusDelivered,
		OrderStatusRevisionRequested, OrderStatusDisputed:
		return true
	}
	return false
}

func NewOrderStatus(status string) (OrderStatus, error) {
	s := OrderStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус заказа")
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentStatusAwaiting PaymentStatus = "awaiting"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusAwaiting, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func NewPaymentStatus(status string) (PaymentStatus, error) {
	s := PaymentStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус оплаты")
	}
	return s, nil
}
