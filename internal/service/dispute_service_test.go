package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestDisputeService_Open(t *testing.T) {
	f := newFixture(t)
	pending := f.checkout()
	o := f.paidOrder()

	_, err := f.disputes.Open(f.ctx, uuid.New(), o.ID, "чужой спор")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.disputes.Open(f.ctx, f.buyer, o.ID, "   ")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeValidation))

	_, err = f.disputes.Open(f.ctx, f.buyer, pending.Order.ID, "не оплачен")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))

	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "продавец пропал")
	require.NoError(t, err)
	assert.Equal(t, entity.DisputeStateOpen, d.State)
	assert.Equal(t, f.buyer, d.OpenerID)

	got := f.order(o.ID)
	assert.Equal(t, valueobject.OrderStatusDisputed, got.Status)
	assert.Equal(t, &d.ID, got.DisputeID)
	assertDec(t, "100", f.wallet(entity.PlatformEscrowAccount).Escrow, "деньги остаются в эскроу")

	_, err = f.disputes.Open(f.ctx, f.seller, o.ID, "второй спор")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))
	assert.Equal(t, 1, f.events.count(event.OrderDisputed))
}

func TestDisputeService_FreezesAutoAccept(t *testing.T) {
	f := newFixture(t)
	o := f.deliveredOrder()

	_, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "не то")
	require.NoError(t, err)

	f.clock.Advance(100 * time.Hour)
	res, err := f.sweeps.AutoAcceptDue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, valueobject.OrderStatusDisputed, f.order(o.ID).Status)

	_, err = f.orders.Accept(f.ctx, f.buyer, o.ID)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))
	_, err = f.orders.Cancel(f.ctx, f.seller, o.ID, "")
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))
}

func TestDisputeService_ResolveForSeller(t *testing.T) {
	f := newFixture(t)
	o := f.deliveredOrder()
	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "качество")
	require.NoError(t, err)

	reviewed, err := f.disputes.Review(f.ctx, f.admin, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DisputeStateUnderReview, reviewed.State)
	_, err = f.disputes.Review(f.ctx, f.admin, d.ID)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition))

	resolved, got, err := f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSeller, Memo: "работа сдана по ТЗ"})
	require.NoError(t, err)
	assert.Equal(t, entity.DisputeStateResolvedSeller, resolved.State)
	assert.Equal(t, "работа сдана по ТЗ", resolved.ResolutionMemo)
	require.NotNil(t, resolved.ResolverID)
	assert.Equal(t, f.admin, *resolved.ResolverID)
	assert.Equal(t, valueobject.OrderStatusCompleted, got.Status)
	assertDec(t, "90", f.wallet(f.seller).Available)
	assertDec(t, "10", f.wallet(entity.PlatformRevenueAccount).Available)

	_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeBuyer})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition), "спор закрывается один раз")
	assertDec(t, "-100", f.wallet(f.buyer).Available)

	assert.Equal(t, []event.Type{
		event.OrderPlaced, event.OrderPaid, event.OrderDelivered,
		event.OrderDisputed, event.DisputeResolved, event.OrderCompleted,
	}, f.events.types())
	f.assertReconciled()
}

func TestDisputeService_ResolveValidation(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder()
	d, err := f.disputes.Open(f.ctx, f.seller, o.ID, "покупатель не даёт доступы")
	require.NoError(t, err)

	_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: "half"})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeValidation))

	_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSplit})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeValidation))

	for _, r := range []string{"0", "1", "1.5", "-0.2"} {
		ratio := dec(r)
		_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSplit, Ratio: &ratio})
		assert.True(t, apperror.HasCode(err, apperror.ErrCodeValidation), "ratio=%s", r)
	}

	_, _, err = f.disputes.Resolve(f.ctx, f.admin, uuid.New(), ResolveInput{Outcome: entity.DisputeOutcomeBuyer})
	assert.ErrorIs(t, err, apperror.ErrDisputeNotFound)

	assert.Equal(t, valueobject.OrderStatusDisputed, f.order(o.ID).Status)
	assert.Zero(t, countKind(f.orderEntries(o.ID), entity.EntryKindRelease))
}

// Остаток покупателя считается вычитанием, поэтому округление не нарушает баланс.
func TestDisputeService_SplitRounding(t *testing.T) {
	f := newFixtureWith(t, fixtureOptions{price: "99.99"})
	o := f.paidOrder()
	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "частично")
	require.NoError(t, err)

	ratio := dec("0.333")
	_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSplit, Ratio: &ratio})
	require.NoError(t, err)

	seller := f.wallet(f.seller).Available
	revenue := f.wallet(entity.PlatformRevenueAccount).Available
	buyer := f.wallet(f.buyer).Available
	assertDec(t, "0", seller.Add(revenue).Add(buyer))
	assertDec(t, "0", f.wallet(entity.PlatformEscrowAccount).Escrow)
	assert.True(t, seller.Equal(valueobject.RoundStorage(seller)), "доля продавца округлена до копейки: %s", seller)
	f.assertReconciled()
}

func TestDisputeService_GetAndList(t *testing.T) {
	f := newFixture(t)
	o := f.paidOrder()
	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "сроки")
	require.NoError(t, err)

	got, err := f.disputes.GetByOrder(f.ctx, f.seller, false, o.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = f.disputes.GetByOrder(f.ctx, uuid.New(), false, o.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	other := f.paidOrder()
	_, err = f.disputes.GetByOrder(f.ctx, f.buyer, false, other.ID)
	assert.ErrorIs(t, err, apperror.ErrDisputeNotFound)

	open, err := f.disputes.List(f.ctx, string(entity.DisputeStateOpen), 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	resolved, err := f.disputes.List(f.ctx, string(entity.DisputeStateResolvedBuyer), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}
