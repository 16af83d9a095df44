package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type orderRepo struct {
	run runner
}

func (r *orderRepo) Create(ctx context.Context, order *entity.Order) error {
	return r.run(func(s *state) error {
		if _, ok := s.orders[order.ID]; ok {
			return repository.ErrDuplicateKey
		}
		order.Version = 1
		s.orders[order.ID] = *order
		return nil
	})
}

func (r *orderRepo) Update(ctx context.Context, order *entity.Order) error {
	return r.run(func(s *state) error {
		stored, ok := s.orders[order.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if stored.Version != order.Version {
			return repository.ErrVersionConflict
		}
		order.Version++
		s.orders[order.ID] = *order
		return nil
	})
}

func (r *orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	var out *entity.Order
	err := r.run(func(s *state) error {
		o, ok := s.orders[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

// FindByIDForUpdate в памяти равен FindByID: транзакции и так выполняются по одной.
func (r *orderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *orderRepo) List(ctx context.Context, f repository.OrderFilter) ([]*entity.Order, error) {
	var out []*entity.Order
	err := r.run(func(s *state) error {
		matched := make([]*entity.Order, 0)
		for _, o := range s.orders {
			if f.BuyerID != nil && o.BuyerID != *f.BuyerID {
				continue
			}
			if f.SellerID != nil && o.SellerID != *f.SellerID {
				continue
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			o := o
			matched = append(matched, &o)
		}
		slices.SortFunc(matched, func(a, b *entity.Order) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		out = page(matched, f.Limit, f.Offset)
		return nil
	})
	return out, err
}

func (r *orderRepo) ClaimAutoAcceptDue(ctx context.Context, c repository.Claim) ([]uuid.UUID, error) {
	return r.claim(c, func(o entity.Order) (time.Time, bool) {
		if o.Status != valueobject.OrderStatusDelivered || o.AutoAcceptDeadline == nil {
			return time.Time{}, false
		}
		return *o.AutoAcceptDeadline, !o.AutoAcceptDeadline.After(c.Now)
	})
}

func (r *orderRepo) ClaimStalePending(ctx context.Context, createdBefore time.Time, c repository.Claim) ([]uuid.UUID, error) {
	return r.claim(c, func(o entity.Order) (time.Time, bool) {
		due := o.Status == valueobject.OrderStatusPending &&
			o.PaymentStatus == valueobject.PaymentStatusAwaiting &&
			o.CreatedAt.Before(createdBefore)
		return o.CreatedAt, due
	})
}

func (r *orderRepo) claim(c repository.Claim, due func(o entity.Order) (time.Time, bool)) ([]uuid.UUID, error) {
	type candidate struct {
		id uuid.UUID
		at time.Time
	}
	var out []uuid.UUID
	err := r.run(func(s *state) error {
		var candidates []candidate
		for id, o := range s.orders {
			at, ok := due(o)
			if !ok || s.orderClaims[id].activeAt(c.Now) {
				continue
			}
			candidates = append(candidates, candidate{id: id, at: at})
		}
		slices.SortFunc(candidates, func(a, b candidate) int {
			return a.at.Compare(b.at)
		})
		for _, cand := range page(candidates, c.Limit, 0) {
			s.orderClaims[cand.id] = claim{token: c.Token, expires: c.ExpiresAt()}
			out = append(out, cand.id)
		}
		return nil
	})
	return out, err
}

func (r *orderRepo) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	return r.run(func(s *state) error {
		if s.orderClaims[id].token == token {
			delete(s.orderClaims, id)
		}
		return nil
	})
}

func (r *orderRepo) AppendHistory(ctx context.Context, h *entity.OrderHistory) error {
	return r.run(func(s *state) error {
		s.history = append(s.history, *h)
		return nil
	})
}

func (r *orderRepo) ListHistory(ctx context.Context, orderID uuid.UUID) ([]entity.OrderHistory, error) {
	var out []entity.OrderHistory
	err := r.run(func(s *state) error {
		for _, h := range s.history {
			if h.OrderID == orderID {
				out = append(out, h)
			}
		}
		return nil
	})
	return out, err
}

func (r *orderRepo) AddDelivery(ctx context.Context, d *entity.Delivery) error {
	return r.run(func(s *state) error {
		s.deliveries = append(s.deliveries, *d)
		return nil
	})
}

func (r *orderRepo) ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]entity.Delivery, error) {
	var out []entity.Delivery
	err := r.run(func(s *state) error {
		for _, d := range s.deliveries {
			if d.OrderID == orderID {
				out = append(out, d)
			}
		}
		return nil
	})
	return out, err
}
