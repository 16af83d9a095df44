package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type gigKey struct {
	gigID uuid.UUID
	tier  string
}

type proposal struct {
	offer   entity.Offer
	buyerID uuid.UUID
}

// Catalog каталог предложений для тестов.
type Catalog struct {
	mu        sync.RWMutex
	gigs      map[gigKey]entity.Offer
	proposals map[uuid.UUID]proposal
}

func NewCatalog() *Catalog {
	return &Catalog{
		gigs:      make(map[gigKey]entity.Offer),
		proposals: make(map[uuid.UUID]proposal),
	}
}

func (c *Catalog) AddGig(offer entity.Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gigs[gigKey{gigID: *offer.GigID, tier: offer.PackageTier}] = offer
}

func (c *Catalog) AddProposal(buyerID uuid.UUID, offer entity.Offer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposals[*offer.ProposalID] = proposal{offer: offer, buyerID: buyerID}
}

func (c *Catalog) GigOffer(ctx context.Context, gigID uuid.UUID, tier string) (*entity.Offer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	offer, ok := c.gigs[gigKey{gigID: gigID, tier: tier}]
	if !ok {
		return nil, apperror.ErrOfferNotFound
	}
	return &offer, nil
}

func (c *Catalog) ProposalOffer(ctx context.Context, proposalID, buyerID uuid.UUID) (*entity.Offer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.proposals[proposalID]
	if !ok || p.buyerID != buyerID {
		return nil, apperror.ErrOfferNotFound
	}
	return &p.offer, nil
}

// Referrals справочник приглашений для тестов.
type Referrals struct {
	mu        sync.RWMutex
	referrers map[uuid.UUID]uuid.UUID
}

func NewReferrals() *Referrals {
	return &Referrals{referrers: make(map[uuid.UUID]uuid.UUID)}
}

func (r *Referrals) Set(userID, referrerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referrers[userID] = referrerID
}

func (r *Referrals) ReferrerOf(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.referrers[userID]
	return id, ok, nil
}
