package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
)

func TestSweepService_ExpireStalePayments(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()

	f.clock.Advance(10 * time.Minute)
	got, err := f.sweeps.ExpireStalePayments(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Processed, "таймаут оплаты ещё не истёк")

	f.clock.Advance(21 * time.Minute)
	got, err = f.sweeps.ExpireStalePayments(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)

	o := f.order(res.Order.ID)
	assert.Equal(t, valueobject.OrderStatusCancelled, o.Status)
	assert.Equal(t, valueobject.PaymentStatusFailed, o.PaymentStatus)
	assert.Equal(t, 1, f.events.count(event.OrderCancelled))

	got, err = f.sweeps.ExpireStalePayments(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Processed)
}

// Вебхук об оплате потерялся: перед отменой статус сверяется со шлюзом.
func TestSweepService_ExpireStaleAppliesMissedConfirmation(t *testing.T) {
	f := newFixture(t)
	res := f.checkout()
	f.gw.SetStatus(res.Intent.GatewayReference, gateway.StatusConfirmed)

	f.clock.Advance(31 * time.Minute)
	got, err := f.sweeps.ExpireStalePayments(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)

	o := f.order(res.Order.ID)
	assert.Equal(t, valueobject.OrderStatusInProgress, o.Status)
	assert.Equal(t, valueobject.PaymentStatusPaid, o.PaymentStatus)
	assertDec(t, "100", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assert.Zero(t, f.events.count(event.OrderCancelled))

	// запоздалый вебхук с другим payload не проводит оплату второй раз
	assert.Equal(t, OutcomeIgnored, f.confirm(res.Intent.GatewayReference))
	assert.Equal(t, 2, len(f.orderEntries(o.ID)))
	f.assertReconciled()
}

func TestSweepService_RunAll(t *testing.T) {
	f := newFixture(t)
	delivered := f.deliveredOrder()
	stale := f.checkout()

	f.clock.Advance(73 * time.Hour)
	require.NoError(t, f.sweeps.RunAll(f.ctx))

	assert.Equal(t, valueobject.OrderStatusCompleted, f.order(delivered.ID).Status)
	assert.Equal(t, valueobject.OrderStatusCancelled, f.order(stale.Order.ID).Status)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assert.Equal(t, 1, f.events.count(event.OrderCompleted))

	require.NoError(t, f.sweeps.RunAll(f.ctx))
	assert.Equal(t, 1, f.events.count(event.OrderCompleted), "повторный проход ничего не меняет")
}

func TestSweepService_Reconcile(t *testing.T) {
	f := newFixture(t)
	f.completedOrder()

	got, err := f.sweeps.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Positive(t, got.Processed)
	assert.Zero(t, got.Failed)

	tampered := *f.wallet(f.seller)
	tampered.Available = dec("1000")
	f.db.SetWallet(tampered)

	got, err = f.sweeps.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)
}

// lateResponseGateway шлюз, который успевает прислать вебхук об исходе
// выплаты раньше, чем сервис сохранит reference из ответа.
type lateResponseGateway struct {
	gateway.Gateway
	f        *fixture
	status   gateway.Status
	outcomes []ApplyOutcome
}

func (g *lateResponseGateway) Payout(ctx context.Context, req gateway.PayoutRequest) (gateway.Result, error) {
	res, err := g.Gateway.Payout(ctx, req)
	if err != nil {
		return res, err
	}
	g.f.gw.SetStatus(res.Reference, g.status)
	eventType := gateway.EventPayoutSettled
	if g.status == gateway.StatusFailed {
		eventType = gateway.EventPayoutFailed
	}
	outcome, err := g.f.payments.ApplyGatewayEvent(ctx, res.Reference, eventType, "early-"+res.Reference)
	if err != nil {
		return gateway.Result{}, err
	}
	g.outcomes = append(g.outcomes, outcome)
	return res, nil
}

func newLateResponseFixture(t *testing.T, status gateway.Status) (*fixture, *lateResponseGateway) {
	var late *lateResponseGateway
	f := newFixtureWith(t, fixtureOptions{wrapGateway: func(f *fixture, gw gateway.Gateway) gateway.Gateway {
		late = &lateResponseGateway{Gateway: gw, f: f, status: status}
		return late
	}})
	return f, late
}

func TestSweepService_VerifyPayoutsSettlesMissedWebhook(t *testing.T) {
	f, late := newLateResponseFixture(t, gateway.StatusSettled)
	f.completedOrder()

	w, _, err := f.withdrawals.Request(f.ctx, f.seller, WithdrawalInput{Amount: dec("90"), Destination: destination()})
	require.NoError(t, err)
	require.Equal(t, []ApplyOutcome{OutcomeUnknownReference}, late.outcomes, "вебхук пришёл до сохранения reference")
	require.Equal(t, entity.WithdrawalStateProcessing, w.State)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.sweeps.RunAll(f.ctx))
	assert.Equal(t, entity.WithdrawalStateProcessing, f.withdrawal(w.ID).State, "запас времени на вебхук не истёк")
	assertDec(t, "90", f.wallet(entity.PlatformPayoutPendingAccount).Available)

	f.clock.Advance(6 * time.Minute)
	require.NoError(t, f.sweeps.RunAll(f.ctx))

	w = f.withdrawal(w.ID)
	assert.Equal(t, entity.WithdrawalStateSettled, w.State)
	assertDec(t, "90", f.wallet(f.seller).LifetimeWithdrawn)
	assertDec(t, "0", f.wallet(f.seller).Available)
	assertDec(t, "0", f.wallet(entity.PlatformPayoutPendingAccount).Available)
	assert.Equal(t, 1, f.events.count(event.WithdrawalSettled))

	got, err := f.sweeps.VerifyPayouts(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Processed)

	// повтор того же вебхука шлюзом уже ничего не меняет
	outcome, err := f.payments.ApplyGatewayEvent(f.ctx, w.GatewayReference, gateway.EventPayoutSettled, "early-"+w.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, 1, f.events.count(event.WithdrawalSettled))
	f.assertReconciled()
}

func TestSweepService_VerifyPayoutsReturnsFailedPayout(t *testing.T) {
	f, late := newLateResponseFixture(t, gateway.StatusFailed)
	f.completedOrder()

	w, _, err := f.withdrawals.Request(f.ctx, f.seller, WithdrawalInput{Amount: dec("60"), Destination: destination()})
	require.NoError(t, err)
	require.Equal(t, []ApplyOutcome{OutcomeUnknownReference}, late.outcomes)
	assertDec(t, "30", f.wallet(f.seller).Available)

	f.clock.Advance(16 * time.Minute)
	got, err := f.sweeps.VerifyPayouts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)

	assert.Equal(t, entity.WithdrawalStateFailed, f.withdrawal(w.ID).State)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "0", f.wallet(f.seller).LifetimeWithdrawn)
	assertDec(t, "0", f.wallet(entity.PlatformPayoutPendingAccount).Available)
	assert.Equal(t, 1, f.events.count(event.WithdrawalFailed))
	f.assertReconciled()
}

func TestSweepService_VerifyPayoutsStillPending(t *testing.T) {
	f := newFixture(t)
	f.completedOrder()

	w, _, err := f.withdrawals.Request(f.ctx, f.seller, WithdrawalInput{Amount: dec("40"), Destination: destination()})
	require.NoError(t, err)
	require.Equal(t, entity.WithdrawalStateProcessing, w.State)

	f.clock.Advance(16 * time.Minute)
	got, err := f.sweeps.VerifyPayouts(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)

	w = f.withdrawal(w.ID)
	assert.Equal(t, entity.WithdrawalStateProcessing, w.State)
	assert.Equal(t, f.clock.Now(), w.UpdatedAt, "следующая сверка через полный интервал")

	got, err = f.sweeps.VerifyPayouts(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, got.Processed)

	f.gw.SetStatus(w.GatewayReference, gateway.StatusSettled)
	f.clock.Advance(16 * time.Minute)
	require.NoError(t, f.sweeps.RunAll(f.ctx))
	assert.Equal(t, entity.WithdrawalStateSettled, f.withdrawal(w.ID).State)
	assertDec(t, "40", f.wallet(f.seller).LifetimeWithdrawn)
	f.assertReconciled()
}

// Сбой по отдельной заявке не делает проход ошибочным: sweeper завершается с кодом 0.
func TestSweepService_RunAllToleratesWithdrawalFailure(t *testing.T) {
	f := newFixture(t)
	f.completedOrder()
	f.gw.FailNextPayout(gateway.RetryableError("payout", "503", nil))

	w, _, err := f.withdrawals.Request(f.ctx, f.seller, WithdrawalInput{Amount: dec("50"), Destination: destination()})
	require.NoError(t, err)
	require.Equal(t, entity.WithdrawalStatePending, w.State)

	f.clock.Advance(time.Minute)
	failed := false
	f.db.BeforeCommit = func() error {
		if failed {
			return nil
		}
		failed = true
		return errors.New("база недоступна")
	}

	res, err := f.sweeps.RetryWithdrawals(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Processed)
	assert.Equal(t, entity.WithdrawalStatePending, f.withdrawal(w.ID).State)

	failed = false
	require.NoError(t, f.sweeps.RunAll(f.ctx))
	f.db.BeforeCommit = nil

	res, err = f.sweeps.RetryWithdrawals(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, entity.WithdrawalStateProcessing, f.withdrawal(w.ID).State)
	f.assertReconciled()
}
