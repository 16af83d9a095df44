package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type DisputeService struct {
	runner
}

func NewDisputeService(uow repository.UnitOfWork, l *ledger.Ledger, events event.Publisher, currency valueobject.Currency, now func() time.Time) *DisputeService {
	return &DisputeService{runner: newRunner(uow, l, events, currency, now)}
}

// Open открывает спор по заказу и замораживает таймеры заказа.
func (s *DisputeService) Open(ctx context.Context, actorID, orderID uuid.UUID, reason string) (*entity.Dispute, error) {
	var out *entity.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !o.IsParty(actorID) {
			return apperror.ErrForbidden
		}
		now := s.now()
		d, err := entity.NewDispute(o.ID, actorID, reason, now)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.OpenDispute(now, d.ID); err != nil {
			return err
		}
		if err := tx.Disputes().Create(ctx, d); err != nil {
			return err
		}
		if err := saveOrder(ctx, tx, o, change{from: from, actor: uuidPtr(actorID), action: "open_dispute", note: d.Reason}, now); err != nil {
			return err
		}
		ev := orderEvent(event.OrderDisputed, o, now)
		ev.DisputeID = d.ID
		ev.Reason = d.Reason
		ob.add(ev)
		out = d
		return nil
	})
	return out, err
}

// Review администратор берёт спор в работу.
func (s *DisputeService) Review(ctx context.Context, adminID, disputeID uuid.UUID) (*entity.Dispute, error) {
	var out *entity.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, _ *outbox) error {
		d, err := lockDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		if err := d.StartReview(adminID, s.now()); err != nil {
			return err
		}
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

type ResolveInput struct {
	Outcome entity.DisputeOutcome
	Ratio   *decimal.Decimal
	Memo    string
}

// Resolve закрывает спор: возврат покупателю, выплата продавцу или раздел суммы.
func (s *DisputeService) Resolve(ctx context.Context, adminID, disputeID uuid.UUID, in ResolveInput) (*entity.Dispute, *entity.Order, error) {
	if !in.Outcome.IsValid() {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "outcome должен быть buyer, seller или split")
	}
	if in.Outcome == entity.DisputeOutcomeSplit && in.Ratio == nil {
		return nil, nil, apperror.New(apperror.ErrCodeValidation, "для раздела суммы нужна доля продавца")
	}

	var (
		outD *entity.Dispute
		outO *entity.Order
	)
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		d, err := lockDispute(ctx, tx, disputeID)
		if err != nil {
			return err
		}
		o, err := lockOrder(ctx, tx, d.OrderID)
		if err != nil {
			return err
		}
		now := s.now()
		from := o.Status

		var req ledger.Request
		fee := decimal.Zero
		switch in.Outcome {
		case entity.DisputeOutcomeBuyer:
			err = o.ResolveForBuyer(now)
			req = ledger.Refund(o)
		case entity.DisputeOutcomeSeller:
			err = o.ResolveForSeller(now)
			req = ledger.Release(o)
			fee = o.Fee().Amount
		case entity.DisputeOutcomeSplit:
			err = o.ResolveSplit(now, *in.Ratio)
			req = ledger.SplitRelease(o, *in.Ratio)
			fee = valueobject.RoundStorage(o.Fee().Amount.Mul(*in.Ratio))
		}
		if err != nil {
			return err
		}
		if err := d.Resolve(adminID, in.Outcome, in.Ratio, in.Memo, now); err != nil {
			return err
		}
		if _, _, err := s.ledger.Append(ctx, tx, req); err != nil {
			return err
		}
		if o.Status == valueobject.OrderStatusRefunded {
			if err := refundIntent(ctx, tx, o.ID, now); err != nil {
				return err
			}
		}
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return err
		}
		if err := saveOrder(ctx, tx, o, change{from: from, actor: uuidPtr(adminID), action: "resolve_dispute_" + string(in.Outcome), note: in.Memo}, now); err != nil {
			return err
		}

		resolved := orderEvent(event.DisputeResolved, o, now)
		resolved.DisputeID = d.ID
		resolved.Reason = string(in.Outcome)
		ob.add(resolved)
		if o.Status == valueobject.OrderStatusCompleted {
			done := orderEvent(event.OrderCompleted, o, now)
			done.Fee = fee
			ob.add(done)
		} else {
			ob.add(orderEvent(event.OrderRefunded, o, now))
		}
		outD, outO = d, o
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outD, outO, nil
}

// GetByOrder спор заказа; доступен сторонам и администратору.
func (s *DisputeService) GetByOrder(ctx context.Context, userID uuid.UUID, isAdmin bool, orderID uuid.UUID) (*entity.Dispute, error) {
	store := s.uow.Store()
	o, err := store.Orders().FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	if !isAdmin && !o.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}
	d, err := store.Disputes().FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *DisputeService) List(ctx context.Context, state string, limit, offset int) ([]entity.Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.uow.Store().Disputes().List(ctx, entity.DisputeState(state), limit, offset)
}

func lockDispute(ctx context.Context, tx repository.Store, id uuid.UUID) (*entity.Dispute, error) {
	d, err := tx.Disputes().FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}
	return d, nil
}

func refundIntent(ctx context.Context, tx repository.Store, orderID uuid.UUID, now time.Time) error {
	intent, err := tx.Intents().FindByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	intent.Transition(entity.IntentStateRefunded, "", now)
	return tx.Intents().Update(ctx, intent)
}
