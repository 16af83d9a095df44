package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
)

type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *entity.PaymentIntent) error
	Update(ctx context.Context, intent *entity.PaymentIntent) error
	FindByReference(ctx context.Context, reference string) (*entity.PaymentIntent, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.PaymentIntent, error)
}

type GatewayEventRepository interface {
	// Record возвращает false, если событие с тем же (reference, type, hash) уже записано.
	Record(ctx context.Context, ev entity.GatewayEvent) (bool, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *entity.WithdrawalRequest) error
	Update(ctx context.Context, w *entity.WithdrawalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error)
	FindByReference(ctx context.Context, reference string) (*entity.WithdrawalRequest, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entity.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.WithdrawalRequest, error)
	CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	// Claim захватывает заявку для попытки выплаты; false, если её держит другой обработчик.
	Claim(ctx context.Context, id uuid.UUID, claim Claim) (bool, error)
	ClaimDue(ctx context.Context, claim Claim) ([]uuid.UUID, error)
	// ClaimStaleProcessing захватывает выплаты, переданные шлюзу и не менявшиеся
	// с updatedBefore: их статус нужно запросить у шлюза.
	ClaimStaleProcessing(ctx context.Context, updatedBefore time.Time, claim Claim) ([]uuid.UUID, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error
	HasActiveClaim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type DisputeRepository interface {
	Create(ctx context.Context, d *entity.Dispute) error
	Update(ctx context.Context, d *entity.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error)
	List(ctx context.Context, state entity.DisputeState, limit, offset int) ([]entity.Dispute, error)
}

// NotificationFilter отбор входящих. EventPrefix сравнивается с началом
// типа события: "order." отдаёт все уведомления по заказам.
type NotificationFilter struct {
	UnreadOnly  bool
	EventPrefix string
}

type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	List(ctx context.Context, userID uuid.UUID, f NotificationFilter, limit, offset int) ([]entity.Notification, error)
	// MarkRead отмечает прочитанными уведомления из ids; пустой ids отмечает все.
	// Возвращает число изменённых записей.
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}
