package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// OrderHistory запись аудита о переходе заказа.
type OrderHistory struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	FromStatus valueobject.OrderStatus
	ToStatus   valueobject.OrderStatus
	Note       string
	CreatedAt  time.Time
}

// Delivery результат работы, сданный продавцом.
type Delivery struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	SellerID    uuid.UUID
	Note        string
	Attachments []string
	CreatedAt   time.Time
}

// Notification запись входящих уведомлений пользователя.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	EventType string
	Payload   json.RawMessage
	IsRead    bool
	CreatedAt time.Time
}
