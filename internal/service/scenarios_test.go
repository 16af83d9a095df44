package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
)

func TestScenario_HappyPath(t *testing.T) {
	f := newFixture(t)

	res := f.checkout()
	assert.Equal(t, valueobject.OrderStatusPending, res.Order.Status)
	assertDec(t, "0", f.wallet(f.buyer).Available, "до вебхука деньги не двигаются")

	require.Equal(t, OutcomeApplied, f.confirm(res.Intent.GatewayReference))
	assertDec(t, "-100", f.wallet(f.buyer).Available)
	assertDec(t, "100", f.wallet(entity.PlatformEscrowAccount).Escrow)

	_, err := f.orders.Deliver(f.ctx, f.seller, res.Order.ID, DeliverInput{Note: "готово"})
	require.NoError(t, err)
	o, err := f.orders.Accept(f.ctx, f.buyer, res.Order.ID)
	require.NoError(t, err)

	assert.Equal(t, valueobject.OrderStatusCompleted, o.Status)
	assert.True(t, o.EscrowReleased)
	assertDec(t, "0", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "90", f.wallet(f.seller).LifetimeEarned)
	assertDec(t, "10", f.wallet(entity.PlatformRevenueAccount).Available)

	assert.Equal(t, []event.Type{
		event.OrderPlaced, event.OrderPaid, event.OrderDelivered, event.OrderCompleted,
	}, f.events.types())
	f.assertReconciled()
}

func TestScenario_AutoAccept(t *testing.T) {
	f := newFixture(t)
	o := f.deliveredOrder()

	f.clock.Advance(71 * time.Hour)
	res, err := f.sweeps.AutoAcceptDue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "срок приёмки ещё не истёк")

	f.clock.Advance(2 * time.Hour)
	res, err = f.sweeps.AutoAcceptDue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	got := f.order(o.ID)
	assert.Equal(t, valueobject.OrderStatusCompleted, got.Status)
	assert.True(t, got.EscrowReleased)
	assertDec(t, "0", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "10", f.wallet(entity.PlatformRevenueAccount).Available)

	res, err = f.sweeps.AutoAcceptDue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "повторный проход ничего не меняет")
	f.assertReconciled()
}

func TestScenario_RevisionThenAccept(t *testing.T) {
	f := newFixture(t)
	o := f.deliveredOrder()

	got, err := f.orders.RequestRevision(f.ctx, f.buyer, o.ID, "поправьте шрифты")
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusRevisionRequested, got.Status)
	assert.Equal(t, 1, got.RevisionsUsed)
	assert.Nil(t, got.AutoAcceptDeadline)

	_, err = f.orders.Deliver(f.ctx, f.seller, o.ID, DeliverInput{Note: "исправлено"})
	require.NoError(t, err)
	got, err = f.orders.Accept(f.ctx, f.buyer, o.ID)
	require.NoError(t, err)

	assert.Equal(t, valueobject.OrderStatusCompleted, got.Status)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "10", f.wallet(entity.PlatformRevenueAccount).Available)
	assertDec(t, "-100", f.wallet(f.buyer).Available)

	deliveries, err := f.db.Store().Orders().ListDeliveries(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestScenario_RefundAfterDispute(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{price: "50.00"})
	o := f.deliveredOrder()

	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "работа не соответствует ТЗ")
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusDisputed, f.order(o.ID).Status)

	_, err = f.disputes.Review(f.ctx, f.admin, d.ID)
	require.NoError(t, err)
	resolved, got, err := f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeBuyer, Memo: "возврат"})
	require.NoError(t, err)

	assert.Equal(t, entity.DisputeStateResolvedBuyer, resolved.State)
	assert.Equal(t, valueobject.OrderStatusRefunded, got.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, got.PaymentStatus)
	assertDec(t, "0", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assertDec(t, "0", f.wallet(f.buyer).Available)
	assertDec(t, "0", f.wallet(f.seller).Available)
	assertDec(t, "0", f.wallet(entity.PlatformRevenueAccount).Available)

	intent, err := f.db.Store().Intents().FindByOrderID(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentStateRefunded, intent.State)
	assert.Equal(t, 1, f.events.count(event.OrderRefunded))
	f.assertReconciled()
}

// Продавец получает r от суммы за вычетом комиссии, платформа r от комиссии,
// покупатель остаток: -200 + 100 = -100.
func TestScenario_SplitResolution(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{price: "200.00"})
	o := f.deliveredOrder()

	d, err := f.disputes.Open(f.ctx, f.seller, o.ID, "покупатель не отвечает")
	require.NoError(t, err)
	ratio := dec("0.5")
	resolved, got, err := f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSplit, Ratio: &ratio})
	require.NoError(t, err)

	assert.Equal(t, entity.DisputeStateResolvedSplit, resolved.State)
	assert.Equal(t, valueobject.OrderStatusCompleted, got.Status)
	assert.True(t, got.EscrowReleased)
	assertDec(t, "0", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "-100", f.wallet(f.buyer).Available)
	assertDec(t, "10", f.wallet(entity.PlatformRevenueAccount).Available)

	var completed event.Event
	for _, ev := range f.events.events {
		if ev.Type == event.OrderCompleted {
			completed = ev
		}
	}
	assertDec(t, "10", completed.Fee, "событие несёт фактически заработанную комиссию")
	f.assertReconciled()
}

func TestScenario_DuplicateWebhook(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	assert.Equal(t, OutcomeApplied, f.confirm(res.Intent.GatewayReference))
	assert.Equal(t, OutcomeDuplicate, f.confirm(res.Intent.GatewayReference))

	entries := f.orderEntries(res.Order.ID)
	holds := 0
	for _, e := range entries {
		if e.Kind == entity.EntryKindHold && e.AccountID == f.buyer {
			holds++
		}
	}
	assert.Equal(t, 1, holds)
	assertDec(t, "-100", f.wallet(f.buyer).Available)
	assert.Equal(t, 1, f.events.count(event.OrderPaid))

	// то же событие с другим отпечатком: заказ уже оплачен, повтор игнорируется
	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, gateway.EventPaymentConfirmed, "other-hash")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Len(t, f.orderEntries(res.Order.ID), len(entries))
}

func TestScenario_WithdrawalSettled(t *testing.T) {
	f := newFixture(t)
	f.completedOrder()
	assertDec(t, "90", f.wallet(f.seller).Available)

	w, dup, err := f.withdrawals.Request(f.ctx, f.seller, WithdrawalInput{
		Amount:         dec("90"),
		Destination:    destination(),
		IdempotencyKey: "wd-1",
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, entity.WithdrawalStateProcessing, w.State)
	require.NotEmpty(t, w.GatewayReference)

	assertDec(t, "0", f.wallet(f.seller).Available)
	assertDec(t, "90", f.wallet(entity.PlatformPayoutPendingAccount).Available)

	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, w.GatewayReference, gateway.EventPayoutSettled, "payout-hash")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	assert.Equal(t, entity.WithdrawalStateSettled, f.withdrawal(w.ID).State)
	assertDec(t, "0", f.wallet(entity.PlatformPayoutPendingAccount).Available)
	assertDec(t, "90", f.wallet(f.seller).LifetimeWithdrawn)
	assertDec(t, "0", f.wallet(f.seller).Available)
	assert.Equal(t, 1, f.events.count(event.WithdrawalSettled))
	f.assertReconciled()
}
