package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const (
	inboxDefaultLimit = 20
	inboxMaxLimit     = 100
)

// Inbox страница входящих и общее число непрочитанных.
type Inbox struct {
	Items  []entity.Notification
	Unread int
}

// NotificationService входящие пользователя: сохранение событий шины,
// выдача списка и отметка прочтения.
type NotificationService struct {
	uow repository.UnitOfWork
	now func() time.Time
}

func NewNotificationService(uow repository.UnitOfWork, now func() time.Time) *NotificationService {
	if now == nil {
		now = time.Now
	}
	return &NotificationService{uow: uow, now: now}
}

// Save кладёт событие во входящие. Полезная нагрузка хранится как есть.
func (s *NotificationService) Save(ctx context.Context, userID uuid.UUID, eventType string, data any) (uuid.UUID, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("notification service: payload %s: %w", eventType, err)
	}
	n := &entity.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.uow.Store().Notifications().Create(ctx, n); err != nil {
		return uuid.Nil, err
	}
	return n.ID, nil
}

// Inbox возвращает страницу входящих. Счётчик непрочитанных не зависит от фильтра.
func (s *NotificationService) Inbox(ctx context.Context, userID uuid.UUID, f repository.NotificationFilter, limit, offset int) (*Inbox, error) {
	if limit <= 0 {
		limit = inboxDefaultLimit
	}
	limit = min(limit, inboxMaxLimit)
	offset = max(offset, 0)

	repo := s.uow.Store().Notifications()
	items, err := repo.List(ctx, userID, f, limit, offset)
	if err != nil {
		return nil, err
	}
	unread, err := repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Inbox{Items: items, Unread: unread}, nil
}

// MarkOneRead отмечает одно уведомление. Чужое или уже прочитанное не найдётся.
func (s *NotificationService) MarkOneRead(ctx context.Context, userID, id uuid.UUID) error {
	n, err := s.uow.Store().Notifications().MarkRead(ctx, userID, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.New(apperror.ErrCodeNotFound, "непрочитанное уведомление не найдено")
	}
	return nil
}

// MarkRead отмечает ids или, при пустом списке, все входящие пользователя.
func (s *NotificationService) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	return s.uow.Store().Notifications().MarkRead(ctx, userID, ids)
}
