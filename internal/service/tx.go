package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// outbox копит события транзакции. Публикуются только после коммита.
type outbox struct {
	events []event.Event
}

func (o *outbox) add(evs ...event.Event) {
	o.events = append(o.events, evs...)
}

// runner общий для сервисов способ выполнить изменение в одной единице работы.
type runner struct {
	uow      repository.UnitOfWork
	ledger   *ledger.Ledger
	events   event.Publisher
	currency valueobject.Currency
	now      func() time.Time
}

func newRunner(uow repository.UnitOfWork, l *ledger.Ledger, events event.Publisher, currency valueobject.Currency, now func() time.Time) runner {
	if events == nil {
		events = event.Discard{}
	}
	if now == nil {
		now = time.Now
	}
	return runner{uow: uow, ledger: l, events: events, currency: currency, now: now}
}

// run выполняет fn в транзакции. При повторе транзакции события прошлой
// попытки отбрасываются.
func (r runner) run(ctx context.Context, fn func(ctx context.Context, tx repository.Store, ob *outbox) error) error {
	ob := &outbox{}
	err := r.uow.Do(ctx, func(ctx context.Context, tx repository.Store) error {
		ob.events = ob.events[:0]
		return fn(ctx, tx, ob)
	})
	if err != nil {
		if apperror.HasCode(err, apperror.ErrCodeLedgerImbalance) && r.ledger != nil {
			if frozen := r.ledger.Quarantine(ctx, r.uow, err, r.currency); len(frozen) > 0 {
				logger.Alert(logger.AlertLedgerIntegrity).WithField("accounts", frozen).Error("service: счета заморожены до сверки")
			}
		}
		return mapStoreError(err)
	}
	if len(ob.events) > 0 {
		r.events.Publish(ctx, ob.events...)
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return apperror.Wrap(err, apperror.ErrCodeConflict, apperror.ErrConcurrentUpdate.Message)
	case errors.Is(err, repository.ErrNotFound):
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Wrap(err, apperror.ErrCodeNotFound, "запись не найдена")
	}
	return err
}

func lockOrder(ctx context.Context, tx repository.Store, id uuid.UUID) (*entity.Order, error) {
	o, err := tx.Orders().FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// change описание перехода для журнала истории.
type change struct {
	from   valueobject.OrderStatus
	actor  *uuid.UUID
	action string
	note   string
}

// saveOrder проверяет переход по таблице статусов и инварианты, сохраняет
// заказ и пишет историю.
func saveOrder(ctx context.Context, tx repository.Store, o *entity.Order, c change, now time.Time) error {
	if c.from != o.Status && !c.from.CanTransitionTo(o.Status) {
		if c.from.IsTerminal() {
			return apperror.Newf(apperror.ErrCodeInvalidStateTransition, "заказ уже в конечном статусе %s", c.from)
		}
		return apperror.Newf(apperror.ErrCodeInvalidStateTransition,
			"переход %s -> %s не предусмотрен", c.from, o.Status)
	}
	if err := o.CheckInvariants(); err != nil {
		return err
	}
	if err := checkLedgerInvariants(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Orders().Update(ctx, o); err != nil {
		return err
	}
	h := &entity.OrderHistory{
		ID:         uuid.New(),
		OrderID:    o.ID,
		ActorID:    c.actor,
		Action:     c.action,
		FromStatus: c.from,
		ToStatus:   o.Status,
		Note:       c.note,
		CreatedAt:  now,
	}
	if err := tx.Orders().AppendHistory(ctx, h); err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"action":   c.action,
		"from":     c.from,
		"to":       o.Status,
	}).Info("order: переход выполнен")
	return nil
}

// checkLedgerInvariants сверяет статус заказа с проводками журнала в той же транзакции.
func checkLedgerInvariants(ctx context.Context, tx repository.Store, o *entity.Order) error {
	count := func(kind entity.EntryKind) (int, error) {
		return tx.Ledger().CountByOrderKind(ctx, o.ID, kind)
	}
	holds, err := count(entity.EntryKindHold)
	if err != nil {
		return err
	}
	releases, err := count(entity.EntryKindRelease)
	if err != nil {
		return err
	}
	refunds, err := count(entity.EntryKindRefund)
	if err != nil {
		return err
	}

	fail := func(msg string) error {
		logger.Alert(logger.AlertLedgerIntegrity).WithField("order_id", o.ID).Error("order: " + msg)
		return apperror.New(apperror.ErrCodeLedgerImbalance, "журнал не согласован с заказом: "+msg)
	}
	if releases > 0 && refunds > 0 {
		return fail("одновременно выплата и возврат")
	}
	switch o.PaymentStatus {
	case valueobject.PaymentStatusPaid:
		if holds == 0 || refunds > 0 {
			return fail("оплата без удержания")
		}
	case valueobject.PaymentStatusRefunded:
		if refunds == 0 {
			return fail("возврат без проводки")
		}
	}
	if o.Status == valueobject.OrderStatusCompleted && releases == 0 {
		return fail("завершён без выплаты")
	}
	return nil
}

func orderEvent(t event.Type, o *entity.Order, now time.Time) event.Event {
	ev := event.New(t, now)
	ev.OrderID = o.ID
	ev.BuyerID = o.BuyerID
	ev.SellerID = o.SellerID
	ev.Amount = o.SettlementPrice.Amount
	ev.Currency = o.SettlementPrice.Currency
	return ev
}

func withdrawalEvent(t event.Type, w *entity.WithdrawalRequest, now time.Time) event.Event {
	ev := event.New(t, now)
	ev.WithdrawalID = w.ID
	ev.UserID = w.UserID
	ev.Amount = w.Amount.Amount
	ev.Currency = w.Amount.Currency
	ev.Reason = w.FailureReason
	return ev
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
