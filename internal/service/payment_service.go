package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// ApplyOutcome результат применения события шлюза.
type ApplyOutcome string

const (
	OutcomeApplied          ApplyOutcome = "applied"
	OutcomeDuplicate        ApplyOutcome = "duplicate"
	OutcomeIgnored          ApplyOutcome = "ignored"
	OutcomeUnknownReference ApplyOutcome = "unknown_reference"
	OutcomeLatePayment      ApplyOutcome = "late_payment"
)

// PaymentService единственная точка входа событий шлюза в конечный автомат.
type PaymentService struct {
	runner
	gw gateway.Gateway
}

func NewPaymentService(uow repository.UnitOfWork, l *ledger.Ledger, gw gateway.Gateway, events event.Publisher, currency valueobject.Currency, now func() time.Time) *PaymentService {
	return &PaymentService{
		runner: newRunner(uow, l, events, currency, now),
		gw:     gw,
	}
}

// ApplyGatewayEvent идемпотентна по (reference, eventType, payloadHash):
// запись о событии фиксируется в той же транзакции, что и переход.
func (s *PaymentService) ApplyGatewayEvent(ctx context.Context, reference, eventType, payloadHash string) (ApplyOutcome, error) {
	fields := logrus.Fields{"reference": reference, "event_type": eventType}
	if !gateway.KnownEvent(eventType) {
		logger.Log.WithFields(fields).Warn("payment: неизвестный тип события шлюза")
		return OutcomeIgnored, nil
	}

	var outcome ApplyOutcome
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		record := func() (bool, error) {
			return tx.GatewayEvents().Record(ctx, entity.GatewayEvent{
				Reference:   reference,
				EventType:   eventType,
				PayloadHash: payloadHash,
				ReceivedAt:  s.now(),
			})
		}

		if strings.HasPrefix(eventType, "payout.") {
			w, err := tx.Withdrawals().FindByReference(ctx, reference)
			if errors.Is(err, repository.ErrNotFound) {
				outcome = OutcomeUnknownReference
				return nil
			}
			if err != nil {
				return err
			}
			if w, err = tx.Withdrawals().FindByIDForUpdate(ctx, w.ID); err != nil {
				return err
			}
			fresh, err := record()
			if err != nil {
				return err
			}
			if !fresh {
				outcome = OutcomeDuplicate
				return nil
			}
			outcome, err = s.applyPayout(ctx, tx, w, eventType, ob)
			return err
		}

		intent, err := tx.Intents().FindByReference(ctx, reference)
		if errors.Is(err, repository.ErrNotFound) {
			outcome = OutcomeUnknownReference
			return nil
		}
		if err != nil {
			return err
		}
		fresh, err := record()
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome, err = s.applyPayment(ctx, tx, intent, eventType, payloadHash, ob)
		return err
	})
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Error("payment: событие шлюза не применено")
		return "", err
	}
	logger.Log.WithFields(fields).WithField("outcome", outcome).Info("payment: событие шлюза обработано")
	return outcome, nil
}

func (s *PaymentService) applyPayment(ctx context.Context, tx repository.Store, intent *entity.PaymentIntent, eventType, hash string, ob *outbox) (ApplyOutcome, error) {
	o, err := lockOrder(ctx, tx, intent.OrderID)
	if err != nil {
		return "", err
	}
	now := s.now()
	from := o.Status

	switch eventType {
	case gateway.EventPaymentConfirmed:
		switch {
		case o.Status == valueobject.OrderStatusPending && o.PaymentStatus == valueobject.PaymentStatusAwaiting:
			if err := o.ConfirmPayment(now); err != nil {
				return "", err
			}
			if _, _, err := s.ledger.Append(ctx, tx, ledger.Hold(o)); err != nil {
				return "", err
			}
			if err := s.moveIntent(ctx, tx, intent, entity.IntentStateConfirmed, hash, now); err != nil {
				return "", err
			}
			if err := saveOrder(ctx, tx, o, change{from: from, action: "payment_confirmed"}, now); err != nil {
				return "", err
			}
			ob.add(orderEvent(event.OrderPaid, o, now))
			return OutcomeApplied, nil
		case o.PaymentStatus == valueobject.PaymentStatusPaid || o.PaymentStatus == valueobject.PaymentStatusRefunded:
			return OutcomeIgnored, nil
		default:
			// деньги списаны по заказу, который уже отменён: возврат делает оператор в шлюзе
			if err := s.moveIntent(ctx, tx, intent, entity.IntentStateConfirmed, hash, now); err != nil {
				return "", err
			}
			logger.Alert("late_payment").WithFields(logrus.Fields{
				"order_id":  o.ID,
				"reference": intent.GatewayReference,
				"status":    o.Status,
			}).Warn("payment: оплата пришла по отменённому заказу")
			return OutcomeLatePayment, nil
		}

	case gateway.EventPaymentFailed:
		if o.Status != valueobject.OrderStatusPending || o.PaymentStatus == valueobject.PaymentStatusPaid {
			return OutcomeIgnored, nil
		}
		if err := s.cancelUnpaid(ctx, tx, o, intent, "платёж отклонён шлюзом", now, ob); err != nil {
			return "", err
		}
		return OutcomeApplied, nil

	case gateway.EventPaymentRefunded:
		if intent.State == entity.IntentStateRefunded {
			return OutcomeIgnored, nil
		}
		if err := s.moveIntent(ctx, tx, intent, entity.IntentStateRefunded, hash, now); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	}
	return OutcomeIgnored, nil
}

func (s *PaymentService) applyPayout(ctx context.Context, tx repository.Store, w *entity.WithdrawalRequest, eventType string, ob *outbox) (ApplyOutcome, error) {
	if !w.IsOpen() {
		return OutcomeIgnored, nil
	}
	now := s.now()
	switch eventType {
	case gateway.EventPayoutSettled:
		if err := settleWithdrawal(ctx, tx, s.ledger, w, w.GatewayReference, now, ob); err != nil {
			return "", err
		}
	case gateway.EventPayoutFailed:
		if err := failWithdrawal(ctx, tx, s.ledger, w, "шлюз отклонил выплату", now, ob); err != nil {
			return "", err
		}
	default:
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}

func (s *PaymentService) moveIntent(ctx context.Context, tx repository.Store, intent *entity.PaymentIntent, state entity.IntentState, hash string, now time.Time) error {
	intent.Transition(state, hash, now)
	return tx.Intents().Update(ctx, intent)
}

func (s *PaymentService) cancelUnpaid(ctx context.Context, tx repository.Store, o *entity.Order, intent *entity.PaymentIntent, reason string, now time.Time, ob *outbox) error {
	from := o.Status
	if err := o.FailPayment(now); err != nil {
		return err
	}
	if intent != nil && !intent.IsFinal() {
		if err := s.moveIntent(ctx, tx, intent, entity.IntentStateFailed, "", now); err != nil {
			return err
		}
	}
	if err := saveOrder(ctx, tx, o, change{from: from, action: "payment_failed", note: reason}, now); err != nil {
		return err
	}
	ev := orderEvent(event.OrderCancelled, o, now)
	ev.Reason = reason
	ob.add(ev)
	return nil
}

// verifyHash отпечаток для статуса, полученного прямым запросом к шлюзу.
func verifyHash(status gateway.Status) string {
	return "verify:" + string(status)
}

// VerifyOrderPayment сверяет статус списания со шлюзом и применяет его как событие.
func (s *PaymentService) VerifyOrderPayment(ctx context.Context, orderID uuid.UUID) (ApplyOutcome, error) {
	intent, err := s.uow.Store().Intents().FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return OutcomeIgnored, nil
		}
		return "", err
	}
	if intent.GatewayReference == "" || intent.IsFinal() {
		return OutcomeIgnored, nil
	}

	res, err := s.gw.Verify(ctx, intent.GatewayReference)
	if err != nil {
		return "", gateway.ToAppError(err)
	}
	switch res.Status {
	case gateway.StatusConfirmed:
		return s.ApplyGatewayEvent(ctx, intent.GatewayReference, gateway.EventPaymentConfirmed, verifyHash(res.Status))
	case gateway.StatusFailed:
		return s.ApplyGatewayEvent(ctx, intent.GatewayReference, gateway.EventPaymentFailed, verifyHash(res.Status))
	}
	return OutcomeIgnored, nil
}

// VerifyPayout запрашивает у шлюза статус выплаты в processing и применяет
// итог как событие. Пока шлюз отвечает pending, у заявки сдвигается updated_at,
// и она уходит в конец очереди сверки.
func (s *PaymentService) VerifyPayout(ctx context.Context, withdrawalID uuid.UUID) (ApplyOutcome, error) {
	w, err := s.uow.Store().Withdrawals().FindByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return OutcomeIgnored, nil
		}
		return "", err
	}
	if w.State != entity.WithdrawalStateProcessing || w.GatewayReference == "" {
		return OutcomeIgnored, nil
	}

	res, err := s.gw.Verify(ctx, w.GatewayReference)
	if err != nil {
		return "", gateway.ToAppError(err)
	}
	switch res.Status {
	case gateway.StatusSettled:
		return s.ApplyGatewayEvent(ctx, w.GatewayReference, gateway.EventPayoutSettled, verifyHash(res.Status))
	case gateway.StatusFailed:
		return s.ApplyGatewayEvent(ctx, w.GatewayReference, gateway.EventPayoutFailed, verifyHash(res.Status))
	}

	err = s.run(ctx, func(ctx context.Context, tx repository.Store, _ *outbox) error {
		w, err := tx.Withdrawals().FindByIDForUpdate(ctx, withdrawalID)
		if err != nil {
			return err
		}
		if w.State != entity.WithdrawalStateProcessing {
			return nil
		}
		w.UpdatedAt = s.now()
		return tx.Withdrawals().Update(ctx, w)
	})
	return OutcomeIgnored, err
}

// attachCharge сохраняет reference, выданный шлюзом при создании списания.
func (s *PaymentService) attachCharge(ctx context.Context, orderID uuid.UUID, res gateway.Result) (*entity.PaymentIntent, error) {
	var out *entity.PaymentIntent
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, _ *outbox) error {
		intent, err := tx.Intents().FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if intent.GatewayReference == "" {
			intent.GatewayReference = res.Reference
			intent.RedirectURL = res.RedirectURL
			intent.UpdatedAt = s.now()
			if err := tx.Intents().Update(ctx, intent); err != nil {
				if errors.Is(err, repository.ErrDuplicateKey) {
					return apperror.Wrap(err, apperror.ErrCodeConflict, "reference шлюза уже привязан к другому платежу")
				}
				return err
			}
		}
		out = intent
		return nil
	})
	return out, err
}

// failCharge отменяет неоплаченный заказ после окончательного отказа шлюза.
func (s *PaymentService) failCharge(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	cancelled := false
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		cancelled = false
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != valueobject.OrderStatusPending || o.PaymentStatus == valueobject.PaymentStatusPaid {
			return nil
		}
		intent, err := tx.Intents().FindByOrderID(ctx, orderID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := s.cancelUnpaid(ctx, tx, o, intent, reason, s.now(), ob); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}

// expireStale отменяет заказ без оплаты после таймаута. Перед отменой статус
// сверяется со шлюзом, чтобы не потерять оплату, вебхук которой не дошёл.
func (s *PaymentService) expireStale(ctx context.Context, orderID uuid.UUID) (bool, error) {
	outcome, err := s.VerifyOrderPayment(ctx, orderID)
	if err != nil {
		if apperror.HasCode(err, apperror.ErrCodeGatewayRetryable) {
			return false, err
		}
		logger.Log.WithError(err).WithField("order_id", orderID).Warn("payment: шлюз не подтвердил платёж, отменяем заказ")
	}
	if outcome == OutcomeApplied || outcome == OutcomeDuplicate {
		// статус уже применён: либо оплачен, либо отменён по отказу шлюза
		return false, nil
	}
	return s.failCharge(ctx, orderID, "истёк срок оплаты")
}

// settleWithdrawal проводит завершённую выплату.
func settleWithdrawal(ctx context.Context, tx repository.Store, l *ledger.Ledger, w *entity.WithdrawalRequest, reference string, now time.Time, ob *outbox) error {
	if _, _, err := l.Append(ctx, tx, ledger.WithdrawalSettled(w)); err != nil {
		return err
	}
	if err := w.MarkSettled(reference, now); err != nil {
		return err
	}
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return err
	}
	ob.add(withdrawalEvent(event.WithdrawalSettled, w, now))
	return nil
}

// failWithdrawal возвращает средства пользователю компенсирующей проводкой.
func failWithdrawal(ctx context.Context, tx repository.Store, l *ledger.Ledger, w *entity.WithdrawalRequest, reason string, now time.Time, ob *outbox) error {
	if _, _, err := l.Append(ctx, tx, ledger.WithdrawalFailed(w)); err != nil {
		return err
	}
	if err := w.MarkFailed(reason, now); err != nil {
		return err
	}
	if err := tx.Withdrawals().Update(ctx, w); err != nil {
		return err
	}
	ob.add(withdrawalEvent(event.WithdrawalFailed, w, now))
	return nil
}
