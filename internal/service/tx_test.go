package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestSaveOrder_RejectsTransitionOutsideTable(t *testing.T) {
	f := newFixture(t)
	pending := f.checkout().Order.ID
	completed := f.completedOrder().ID

	tests := []struct {
		name string
		id   uuid.UUID
		to   valueobject.OrderStatus
	}{
		{name: "pending сразу в delivered", id: pending, to: valueobject.OrderStatusDelivered},
		{name: "из конечного completed", id: completed, to: valueobject.OrderStatusRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.order(tt.id)
			err := f.db.Do(f.ctx, func(ctx context.Context, tx repository.Store) error {
				o, err := lockOrder(ctx, tx, tt.id)
				if err != nil {
					return err
				}
				from := o.Status
				o.Status = tt.to
				return saveOrder(ctx, tx, o, change{from: from, action: "manual"}, f.clock.Now())
			})
			assert.True(t, apperror.HasCode(err, apperror.ErrCodeInvalidStateTransition), "err=%v", err)
			assert.Equal(t, before.Status, f.order(tt.id).Status)
		})
	}
}

// Каждый переход, который выполняют операции заказа, есть в таблице статусов:
// полный путь через спор и правки проходит без отказов saveOrder.
func TestSaveOrder_AcceptsLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	o := f.deliveredOrder()

	_, err := f.orders.RequestRevision(f.ctx, f.buyer, o.ID, "поправить шапку")
	require.NoError(t, err)
	_, err = f.orders.Deliver(f.ctx, f.seller, o.ID, DeliverInput{Note: "исправлено", Attachments: []string{"https://files.example/v2.zip"}})
	require.NoError(t, err)
	d, err := f.disputes.Open(f.ctx, f.buyer, o.ID, "не то")
	require.NoError(t, err)
	_, _, err = f.disputes.Resolve(f.ctx, f.admin, d.ID, ResolveInput{Outcome: entity.DisputeOutcomeSeller})
	require.NoError(t, err)
	assert.Equal(t, valueobject.OrderStatusCompleted, f.order(o.ID).Status)

	history, err := f.db.Store().Orders().ListHistory(f.ctx, o.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for _, h := range history {
		if h.FromStatus != h.ToStatus && h.FromStatus != "" {
			assert.True(t, h.FromStatus.CanTransitionTo(h.ToStatus), "%s -> %s", h.FromStatus, h.ToStatus)
		}
	}
}
