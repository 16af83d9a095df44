package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	// Update сохраняет заказ с проверкой версии и увеличивает её.
	Update(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	// FindByIDForUpdate берёт блокировку строки заказа до конца транзакции.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error)

	ClaimAutoAcceptDue(ctx context.Context, claim Claim) ([]uuid.UUID, error)
	ClaimStalePending(ctx context.Context, createdBefore time.Time, claim Claim) ([]uuid.UUID, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error

	AppendHistory(ctx context.Context, h *entity.OrderHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]entity.OrderHistory, error)
	AddDelivery(ctx context.Context, d *entity.Delivery) error
	ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]entity.Delivery, error)
}

type OrderFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   valueobject.OrderStatus
	Limit    int
	Offset   int
}

// Claim параметры захвата работы фоновым обработчиком. Захват действует до
// Now+Lease; упавший обработчик теряет его по истечении аренды.
type Claim struct {
	Token string
	Now   time.Time
	Lease time.Duration
	Limit int
}

func (c Claim) ExpiresAt() time.Time {
	return c.Now.Add(c.Lease)
}
