package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type WithdrawalState string

const (
	WithdrawalStatePending    WithdrawalState = "pending"
	WithdrawalStateProcessing WithdrawalState = "processing"
	WithdrawalStateSettled    WithdrawalState = "settled"
	WithdrawalStateFailed     WithdrawalState = "failed"
	WithdrawalStateCancelled  WithdrawalState = "cancelled"
)

type WithdrawalRequest struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Amount           valueobject.Money
	Destination      json.RawMessage
	State            WithdrawalState
	GatewayReference string
	Attempts         int
	NextAttemptAt    *time.Time
	FailureReason    string
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewWithdrawalRequest(userID uuid.UUID, amount valueobject.Money, destination json.RawMessage, idempotencyKey string, now time.Time) *WithdrawalRequest {
	return &WithdrawalRequest{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		Destination:    destination,
		State:          WithdrawalStatePending,
		NextAttemptAt:  &now,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsOpen true, пока средства заявки находятся в payout-pending.
func (w *WithdrawalRequest) IsOpen() bool {
	return w.State == WithdrawalStatePending || w.State == WithdrawalStateProcessing
}

func (w *WithdrawalRequest) MarkProcessing(reference string, now time.Time) error {
	if w.State != WithdrawalStatePending {
		return w.invalid(WithdrawalStateProcessing)
	}
	w.State = WithdrawalStateProcessing
	w.GatewayReference = reference
	w.NextAttemptAt = nil
	w.UpdatedAt = now
	return nil
}

// ScheduleRetry оставляет заявку в pending до следующей попытки.
func (w *WithdrawalRequest) ScheduleRetry(reason string, at time.Time, now time.Time) {
	w.FailureReason = reason
	w.NextAttemptAt = &at
	w.UpdatedAt = now
}

func (w *WithdrawalRequest) MarkSettled(reference string, now time.Time) error {
	if !w.IsOpen() {
		return w.invalid(WithdrawalStateSettled)
	}
	if reference != "" {
		w.GatewayReference = reference
	}
	w.State = WithdrawalStateSettled
	w.NextAttemptAt = nil
	w.UpdatedAt = now
	return nil
}

func (w *WithdrawalRequest) MarkFailed(reason string, now time.Time) error {
	if !w.IsOpen() {
		return w.invalid(WithdrawalStateFailed)
	}
	w.State = WithdrawalStateFailed
	w.FailureReason = reason
	w.NextAttemptAt = nil
	w.UpdatedAt = now
	return nil
}

// Cancel возможна только до первого обращения к шлюзу. После таймаута выплата
// могла пройти без ответа, и такую заявку закрывает только повтор или сверка.
func (w *WithdrawalRequest) Cancel(now time.Time) error {
	if w.State != WithdrawalStatePending || w.GatewayReference != "" {
		return w.invalid(WithdrawalStateCancelled)
	}
	if w.Attempts > 0 {
		return apperror.New(apperror.ErrCodeInvalidStateTransition,
			"выплата уже передавалась шлюзу, отмена невозможна")
	}
	w.State = WithdrawalStateCancelled
	w.NextAttemptAt = nil
	w.UpdatedAt = now
	return nil
}

func (w *WithdrawalRequest) invalid(to WithdrawalState) error {
	return apperror.Newf(apperror.ErrCodeInvalidStateTransition,
		"заявка на вывод в статусе %s не может перейти в %s", w.State, to)
}
