package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
)

// CatalogReader читает предложения продавцов из внешних таблиц каталога.
// Вызывается вне транзакции заказа.
type CatalogReader interface {
	// GigOffer пакет услуги указанного уровня (basic, standard, premium).
	GigOffer(ctx context.Context, gigID uuid.UUID, tier string) (*entity.Offer, error)
	// ProposalOffer принятый отклик на задачу покупателя buyerID.
	ProposalOffer(ctx context.Context, proposalID, buyerID uuid.UUID) (*entity.Offer, error)
}

// ReferralDirectory сведения о приглашениях пользователей.
type ReferralDirectory interface {
	// ReferrerOf возвращает пригласившего пользователя; ok=false, если его нет.
	ReferrerOf(ctx context.Context, userID uuid.UUID) (referrerID uuid.UUID, ok bool, err error)
}
