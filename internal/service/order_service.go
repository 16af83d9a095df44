package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/currency"
	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// OrderPolicy параметры жизненного цикла заказа из конфигурации.
type OrderPolicy struct {
	Currency          valueobject.Currency
	FeeRate           valueobject.FeeRate
	AutoAcceptAfter   time.Duration
	FreeCancelWindow  time.Duration
	AllowLateDelivery bool
	ReturnURL         string
}

type OrderDeps struct {
	UoW       repository.UnitOfWork
	Ledger    *ledger.Ledger
	Catalog   repository.CatalogReader
	Converter currency.Converter
	Gateway   gateway.Gateway
	Events    event.Publisher
	Policy    OrderPolicy
	Now       func() time.Time
}

// OrderService переводит заказ по состояниям вместе с проводками журнала.
type OrderService struct {
	runner
	catalog   repository.CatalogReader
	converter currency.Converter
	gw        gateway.Gateway
	payments  *PaymentService
	policy    OrderPolicy
}

func NewOrderService(d OrderDeps, payments *PaymentService) *OrderService {
	return &OrderService{
		runner:    newRunner(d.UoW, d.Ledger, d.Events, d.Policy.Currency, d.Now),
		catalog:   d.Catalog,
		converter: d.Converter,
		gw:        d.Gateway,
		payments:  payments,
		policy:    d.Policy,
	}
}

type CheckoutInput struct {
	GigID        *uuid.UUID
	PackageTier  string
	ProposalID   *uuid.UUID
	Requirements string
	Method       string
}

type CheckoutResult struct {
	Order  *entity.Order
	Intent *entity.PaymentIntent
}

// Checkout создаёт заказ в pending и намерение оплаты, затем вне транзакции
// запрашивает списание у шлюза. Деньги удерживаются только по вебхуку.
func (s *OrderService) Checkout(ctx context.Context, buyerID uuid.UUID, in CheckoutInput) (*CheckoutResult, error) {
	offer, err := s.loadOffer(ctx, buyerID, in)
	if err != nil {
		return nil, err
	}
	settlement, err := s.converter.Convert(ctx, offer.Price, s.policy.Currency)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order, err := entity.NewOrder(entity.NewOrderParams{
		BuyerID:         buyerID,
		Offer:           *offer,
		Requirements:    strings.TrimSpace(in.Requirements),
		SettlementPrice: settlement,
		FeeRate:         s.policy.FeeRate,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	intent := entity.NewPaymentIntent(order.ID, order.SettlementPrice, in.Method, now)

	err = s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := tx.Orders().AppendHistory(ctx, &entity.OrderHistory{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ActorID:   uuidPtr(buyerID),
			Action:    "checkout",
			ToStatus:  order.Status,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Intents().Create(ctx, intent); err != nil {
			return err
		}
		ob.add(orderEvent(event.OrderPlaced, order, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, chargeErr := s.gw.Charge(ctx, gateway.ChargeRequest{
		OrderID:        order.ID,
		Amount:         order.SettlementPrice,
		Method:         intent.Method,
		ReturnURL:      s.policy.ReturnURL,
		IdempotencyKey: "charge:" + order.ID.String(),
	})
	if chargeErr != nil {
		logger.Log.WithFields(logrus.Fields{"order_id": order.ID, "error": chargeErr}).Warn("order: шлюз не принял списание")
		if gateway.IsRetryable(chargeErr) {
			// заказ остаётся pending; sweep отменит его по таймауту оплаты
			return nil, gateway.ToAppError(chargeErr)
		}
		if _, err := s.payments.failCharge(ctx, order.ID, chargeErr.Error()); err != nil {
			logger.Log.WithError(err).WithField("order_id", order.ID).Error("order: не удалось отменить заказ после отказа шлюза")
		}
		return nil, gateway.ToAppError(chargeErr)
	}

	intent, err = s.payments.attachCharge(ctx, order.ID, res)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, Intent: intent}, nil
}

func (s *OrderService) loadOffer(ctx context.Context, buyerID uuid.UUID, in CheckoutInput) (*entity.Offer, error) {
	switch {
	case in.GigID != nil && in.ProposalID == nil:
		tier := strings.ToLower(strings.TrimSpace(in.PackageTier))
		if tier == "" {
			tier = "basic"
		}
		return s.catalog.GigOffer(ctx, *in.GigID, tier)
	case in.ProposalID != nil && in.GigID == nil:
		return s.catalog.ProposalOffer(ctx, *in.ProposalID, buyerID)
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите gig_id с пакетом либо proposal_id")
	}
}

// ConfirmPaymentHint подсказка клиента после возврата со страницы оплаты.
// Сама ничего не списывает: статус сверяется со шлюзом и применяется тем же
// путём, что и вебхук.
func (s *OrderService) ConfirmPaymentHint(ctx context.Context, buyerID, orderID uuid.UUID) (*entity.Order, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, apperror.ErrForbidden
	}
	if o.Status != valueobject.OrderStatusPending {
		return o, nil
	}
	if _, err := s.payments.VerifyOrderPayment(ctx, orderID); err != nil {
		return nil, err
	}
	return s.find(ctx, orderID)
}

type DeliverInput struct {
	Note        string
	Attachments []string
}

func (s *OrderService) Deliver(ctx context.Context, sellerID, orderID uuid.UUID, in DeliverInput) (*entity.Order, error) {
	return s.transition(ctx, orderID, sellerID, "deliver", in.Note, func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
		if o.SellerID != sellerID {
			return apperror.New(apperror.ErrCodeForbidden, "сдать работу может только продавец")
		}
		if err := o.Deliver(now, s.policy.AllowLateDelivery, s.policy.AutoAcceptAfter); err != nil {
			return err
		}
		d := &entity.Delivery{
			ID:          uuid.New(),
			OrderID:     o.ID,
			SellerID:    sellerID,
			Note:        strings.TrimSpace(in.Note),
			Attachments: in.Attachments,
			CreatedAt:   now,
		}
		if err := tx.Orders().AddDelivery(ctx, d); err != nil {
			return err
		}
		ob.add(orderEvent(event.OrderDelivered, o, now))
		return nil
	})
}

func (s *OrderService) Accept(ctx context.Context, buyerID, orderID uuid.UUID) (*entity.Order, error) {
	return s.transition(ctx, orderID, buyerID, "accept", "", func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
		if o.BuyerID != buyerID {
			return apperror.New(apperror.ErrCodeForbidden, "принять работу может только покупатель")
		}
		if err := o.Accept(now); err != nil {
			return err
		}
		return s.release(ctx, tx, o, now, ob)
	})
}

func (s *OrderService) RequestRevision(ctx context.Context, buyerID, orderID uuid.UUID, reason string) (*entity.Order, error) {
	return s.transition(ctx, orderID, buyerID, "request_revision", reason, func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
		if o.BuyerID != buyerID {
			return apperror.New(apperror.ErrCodeForbidden, "запросить правки может только покупатель")
		}
		if err := o.RequestRevision(now); err != nil {
			return err
		}
		ev := orderEvent(event.OrderRevisionRequested, o, now)
		ev.Reason = reason
		ob.add(ev)
		return nil
	})
}

// Cancel отменяет неоплаченный заказ или возвращает деньги по оплаченному.
func (s *OrderService) Cancel(ctx context.Context, actorID, orderID uuid.UUID, reason string) (*entity.Order, error) {
	return s.transition(ctx, orderID, actorID, "cancel", reason, func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
		if !o.IsParty(actorID) {
			return apperror.ErrForbidden
		}
		refund, err := o.Cancel(now, actorID, entity.CancelPolicy{FreeCancelWindow: s.policy.FreeCancelWindow})
		if err != nil {
			return err
		}
		if !refund {
			ev := orderEvent(event.OrderCancelled, o, now)
			ev.Reason = reason
			ob.add(ev)
			return nil
		}
		return s.refund(ctx, tx, o, now, reason, ob)
	})
}

// autoAccept вызывается sweep'ом для заказа, срок приёмки которого истёк.
func (s *OrderService) autoAccept(ctx context.Context, orderID uuid.UUID) (*entity.Order, error) {
	return s.transition(ctx, orderID, uuid.Nil, "auto_accept", "", func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
		if err := o.AutoAccept(now); err != nil {
			return err
		}
		return s.release(ctx, tx, o, now, ob)
	})
}

type txStep func(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error

// transition блокирует заказ, применяет step и сохраняет результат в одной транзакции.
func (s *OrderService) transition(ctx context.Context, orderID, actorID uuid.UUID, action, note string, step txStep) (*entity.Order, error) {
	var out *entity.Order
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		from := o.Status
		if err := step(ctx, tx, o, now, ob); err != nil {
			return err
		}
		var actor *uuid.UUID
		if actorID != uuid.Nil {
			actor = uuidPtr(actorID)
		}
		if err := saveOrder(ctx, tx, o, change{from: from, actor: actor, action: action, note: note}, now); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *OrderService) release(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, ob *outbox) error {
	if _, _, err := s.ledger.Append(ctx, tx, ledger.Release(o)); err != nil {
		return err
	}
	ev := orderEvent(event.OrderCompleted, o, now)
	ev.Fee = o.Fee().Amount
	ob.add(ev)
	return nil
}

func (s *OrderService) refund(ctx context.Context, tx repository.Store, o *entity.Order, now time.Time, reason string, ob *outbox) error {
	if _, _, err := s.ledger.Append(ctx, tx, ledger.Refund(o)); err != nil {
		return err
	}
	if err := refundIntent(ctx, tx, o.ID, now); err != nil {
		return err
	}
	ev := orderEvent(event.OrderRefunded, o, now)
	ev.Reason = reason
	ob.add(ev)
	return nil
}

func (s *OrderService) find(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	o, err := s.uow.Store().Orders().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

// OrderDetails заказ с проекцией журнала и историей.
type OrderDetails struct {
	Order      *entity.Order
	Intent     *entity.PaymentIntent
	Ledger     []entity.LedgerEntry
	History    []entity.OrderHistory
	Deliveries []entity.Delivery
}

// Get доступен сторонам заказа и администратору.
func (s *OrderService) Get(ctx context.Context, userID uuid.UUID, isAdmin bool, orderID uuid.UUID) (*OrderDetails, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !o.IsParty(userID) {
		return nil, apperror.ErrForbidden
	}

	store := s.uow.Store()
	details := &OrderDetails{Order: o}
	if details.Ledger, err = store.Ledger().ListByOrder(ctx, o.ID); err != nil {
		return nil, err
	}
	if details.History, err = store.Orders().ListHistory(ctx, o.ID); err != nil {
		return nil, err
	}
	if details.Deliveries, err = store.Orders().ListDeliveries(ctx, o.ID); err != nil {
		return nil, err
	}
	intent, err := store.Intents().FindByOrderID(ctx, o.ID)
	switch {
	case err == nil:
		details.Intent = intent
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	return details, nil
}

// List заказы пользователя в роли покупателя или продавца.
func (s *OrderService) List(ctx context.Context, userID uuid.UUID, role string, status string, limit, offset int) ([]*entity.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	filter := repository.OrderFilter{Limit: limit, Offset: offset}
	switch role {
	case "", "buyer":
		filter.BuyerID = &userID
	case "seller":
		filter.SellerID = &userID
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "role должен быть buyer или seller")
	}
	if status != "" {
		st, err := valueobject.NewOrderStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	return s.uow.Store().Orders().List(ctx, filter)
}
