package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestPaymentService_UnknownInput(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, "ch_missing", gateway.EventPaymentConfirmed, "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownReference, outcome)

	outcome, err = f.payments.ApplyGatewayEvent(f.ctx, "po_missing", gateway.EventPayoutSettled, "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownReference, outcome)

	outcome, err = f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, "payment.disputed", "x")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	// неизвестный тип не записан как обработанный: подтверждение проходит
	assert.Equal(t, OutcomeApplied, f.confirm(res.Intent.GatewayReference))
}

func TestPaymentService_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, gateway.EventPaymentFailed, "f1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	o := f.order(res.Order.ID)
	assert.Equal(t, valueobject.OrderStatusCancelled, o.Status)
	assert.Equal(t, valueobject.PaymentStatusFailed, o.PaymentStatus)
	intent, err := f.db.Store().Intents().FindByOrderID(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentStateFailed, intent.State)
	assert.Empty(t, f.orderEntries(o.ID))
	assert.Equal(t, 1, f.events.count(event.OrderCancelled))
}

func TestPaymentService_FailedAfterConfirmedIsIgnored(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder()
	intent, err := f.db.Store().Intents().FindByOrderID(f.ctx, o.ID)
	require.NoError(t, err)

	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, intent.GatewayReference, gateway.EventPaymentFailed, "late-fail")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, valueobject.OrderStatusInProgress, f.order(o.ID).Status)
	assertDec(t, "100", f.wallet(entity.PlatformEscrowAccount).Escrow)
}

func TestPaymentService_RefundedEventOnlyMovesIntent(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder()
	intent, err := f.db.Store().Intents().FindByOrderID(f.ctx, o.ID)
	require.NoError(t, err)

	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, intent.GatewayReference, gateway.EventPaymentRefunded, "r1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	intent, err = f.db.Store().Intents().FindByOrderID(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.IntentStateRefunded, intent.State)
	assert.Equal(t, "r1", intent.LastPayloadHash)
	assert.Equal(t, valueobject.OrderStatusInProgress, f.order(o.ID).Status, "деньги из эскроу двигает только заказ")

	outcome, err = f.payments.ApplyGatewayEvent(f.ctx, intent.GatewayReference, gateway.EventPaymentRefunded, "r2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

// Ошибка проводки откатывает и запись о событии: повтор вебхука после
// разморозки кошелька применяется.
func TestPaymentService_FrozenWalletRejectsAndAllowsRedelivery(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	frozen := entity.NewWallet(f.buyer, valueobject.CurrencyUSD, t0)
	frozen.Freeze("ручная проверка", t0)
	f.db.SetWallet(*frozen)

	_, err := f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, gateway.EventPaymentConfirmed, "h")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeWalletFrozen))
	assert.Equal(t, valueobject.OrderStatusPending, f.order(res.Order.ID).Status)

	require.NoError(t, f.wallets.Unfreeze(f.ctx, f.admin, f.buyer))
	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, gateway.EventPaymentConfirmed, "h")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, valueobject.OrderStatusInProgress, f.order(res.Order.ID).Status)
}

func TestPaymentService_BeforeCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	calls := 0
	f.db.BeforeCommit = func() error {
		calls++
		return assert.AnError
	}
	_, err := f.payments.ApplyGatewayEvent(f.ctx, res.Intent.GatewayReference, gateway.EventPaymentConfirmed, "h")
	require.Error(t, err)
	assert.Positive(t, calls)
	f.db.BeforeCommit = nil

	assert.Empty(t, f.orderEntries(res.Order.ID))
	assertDec(t, "0", f.wallet(f.buyer).Available)
	assert.Zero(t, f.events.count(event.OrderPaid), "события публикуются только после коммита")

	assert.Equal(t, OutcomeApplied, f.confirm(res.Intent.GatewayReference))
	assert.Equal(t, 1, f.events.count(event.OrderPaid))
}

func TestPaymentService_VerifyOrderPayment(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	outcome, err := f.payments.VerifyOrderPayment(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	f.gw.SetStatus(res.Intent.GatewayReference, gateway.StatusFailed)
	outcome, err = f.payments.VerifyOrderPayment(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, valueobject.OrderStatusCancelled, f.order(res.Order.ID).Status)

	outcome, err = f.payments.VerifyOrderPayment(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome, "намерение уже в финальном состоянии")
}
