package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// CatalogRepository читает таблицы каталога, которыми владеет внешний сервис.
type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type offerRow struct {
	SellerID     uuid.UUID       `db:"seller_id"`
	Title        string          `db:"title"`
	Description  string          `db:"description"`
	Price        decimal.Decimal `db:"price"`
	Currency     string          `db:"currency"`
	DeliveryDays int             `db:"delivery_days"`
	Revisions    int             `db:"revisions"`
}

func (r offerRow) toOffer() entity.Offer {
	return entity.Offer{
		SellerID:     r.SellerID,
		Title:        r.Title,
		Description:  r.Description,
		Price:        valueobject.Money{Amount: r.Price, Currency: valueobject.Currency(r.Currency)},
		DeliveryDays: r.DeliveryDays,
		Revisions:    r.Revisions,
	}
}

func (r *CatalogRepository) GigOffer(ctx context.Context, gigID uuid.UUID, tier string) (*entity.Offer, error) {
	var row offerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT g.seller_id, g.title || ' (' || p.tier || ')' AS title, p.description, p.price, p.currency,
		       p.delivery_days, p.revisions
		FROM gig_packages p
		JOIN gigs g ON g.id = p.gig_id
		WHERE p.gig_id = $1 AND p.tier = $2 AND g.is_active = TRUE
	`, gigID, tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrOfferNotFound
		}
		return nil, fmt.Errorf("catalog repository: gig offer: %w", err)
	}
	offer := row.toOffer()
	id := gigID
	offer.GigID = &id
	offer.PackageTier = tier
	return &offer, nil
}

// ProposalOffer возвращает принятый отклик, только если задача принадлежит покупателю.
func (r *CatalogRepository) ProposalOffer(ctx context.Context, proposalID, buyerID uuid.UUID) (*entity.Offer, error) {
	var row offerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT p.freelancer_id AS seller_id, j.title, j.description, p.amount AS price, p.currency,
		       p.delivery_days, p.revisions
		FROM job_proposals p
		JOIN jobs j ON j.id = p.job_id
		WHERE p.id = $1 AND j.client_id = $2 AND p.status = 'accepted'
	`, proposalID, buyerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrOfferNotFound
		}
		return nil, fmt.Errorf("catalog repository: proposal offer: %w", err)
	}
	offer := row.toOffer()
	id := proposalID
	offer.ProposalID = &id
	return &offer, nil
}

// ReferralRepository справочник приглашений.
type ReferralRepository struct {
	db *sqlx.DB
}

func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) ReferrerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	var referrer uuid.UUID
	err := r.db.GetContext(ctx, &referrer, `SELECT referrer_id FROM referrals WHERE referred_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("referral repository: referrer of: %w", err)
	}
	return referrer, true, nil
}
