package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
)

type intentRepo struct {
	run runner
}

func (r *intentRepo) Create(ctx context.Context, intent *entity.PaymentIntent) error {
	return r.run(func(s *state) error {
		if _, ok := s.intents[intent.ID]; ok {
			return repository.ErrDuplicateKey
		}
		if err := uniqueReference(s, intent); err != nil {
			return err
		}
		s.intents[intent.ID] = *intent
		return nil
	})
}

func (r *intentRepo) Update(ctx context.Context, intent *entity.PaymentIntent) error {
	return r.run(func(s *state) error {
		if _, ok := s.intents[intent.ID]; !ok {
			return repository.ErrNotFound
		}
		if err := uniqueReference(s, intent); err != nil {
			return err
		}
		s.intents[intent.ID] = *intent
		return nil
	})
}

func uniqueReference(s *state, intent *entity.PaymentIntent) error {
	if intent.GatewayReference == "" {
		return nil
	}
	for id, other := range s.intents {
		if id != intent.ID && other.GatewayReference == intent.GatewayReference {
			return repository.ErrDuplicateKey
		}
	}
	return nil
}

func (r *intentRepo) FindByReference(ctx context.Context, reference string) (*entity.PaymentIntent, error) {
	var out *entity.PaymentIntent
	err := r.run(func(s *state) error {
		for _, p := range s.intents {
			if reference != "" && p.GatewayReference == reference {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

// FindByOrderID возвращает последнее намерение оплаты заказа.
func (r *intentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.PaymentIntent, error) {
	var out *entity.PaymentIntent
	err := r.run(func(s *state) error {
		for _, p := range s.intents {
			if p.OrderID != orderID {
				continue
			}
			if out == nil || p.CreatedAt.After(out.CreatedAt) {
				p := p
				out = &p
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

type gatewayEventRepo struct {
	run runner
}

func (r *gatewayEventRepo) Record(ctx context.Context, ev entity.GatewayEvent) (bool, error) {
	recorded := false
	err := r.run(func(s *state) error {
		key := ev.Reference + "|" + ev.EventType + "|" + ev.PayloadHash
		if _, ok := s.gatewayEvents[key]; ok {
			return nil
		}
		s.gatewayEvents[key] = struct{}{}
		recorded = true
		return nil
	})
	return recorded, err
}

type withdrawalRepo struct {
	run runner
}

func (r *withdrawalRepo) Create(ctx context.Context, w *entity.WithdrawalRequest) error {
	return r.run(func(s *state) error {
		for _, other := range s.withdrawals {
			if other.ID == w.ID {
				return repository.ErrDuplicateKey
			}
			if w.IdempotencyKey != "" && other.UserID == w.UserID && other.IdempotencyKey == w.IdempotencyKey {
				return repository.ErrDuplicateKey
			}
		}
		s.withdrawals[w.ID] = *w
		return nil
	})
}

func (r *withdrawalRepo) Update(ctx context.Context, w *entity.WithdrawalRequest) error {
	return r.run(func(s *state) error {
		if _, ok := s.withdrawals[w.ID]; !ok {
			return repository.ErrNotFound
		}
		s.withdrawals[w.ID] = *w
		return nil
	})
}

func (r *withdrawalRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	return r.find(func(w entity.WithdrawalRequest) bool { return w.ID == id })
}

func (r *withdrawalRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	return r.FindByID(ctx, id)
}

func (r *withdrawalRepo) FindByReference(ctx context.Context, reference string) (*entity.WithdrawalRequest, error) {
	return r.find(func(w entity.WithdrawalRequest) bool {
		return reference != "" && w.GatewayReference == reference
	})
}

func (r *withdrawalRepo) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entity.WithdrawalRequest, error) {
	return r.find(func(w entity.WithdrawalRequest) bool {
		return key != "" && w.UserID == userID && w.IdempotencyKey == key
	})
}

func (r *withdrawalRepo) find(match func(w entity.WithdrawalRequest) bool) (*entity.WithdrawalRequest, error) {
	var out *entity.WithdrawalRequest
	err := r.run(func(s *state) error {
		for _, w := range s.withdrawals {
			if match(w) {
				out = &w
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *withdrawalRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.WithdrawalRequest, error) {
	var out []entity.WithdrawalRequest
	err := r.run(func(s *state) error {
		var matched []entity.WithdrawalRequest
		for _, w := range s.withdrawals {
			if w.UserID == userID {
				matched = append(matched, w)
			}
		}
		slices.SortFunc(matched, func(a, b entity.WithdrawalRequest) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		out = page(matched, limit, offset)
		return nil
	})
	return out, err
}

func (r *withdrawalRepo) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	n := 0
	err := r.run(func(s *state) error {
		for _, w := range s.withdrawals {
			if w.UserID == userID && !w.CreatedAt.Before(since) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *withdrawalRepo) Claim(ctx context.Context, id uuid.UUID, c repository.Claim) (bool, error) {
	claimed := false
	err := r.run(func(s *state) error {
		w, ok := s.withdrawals[id]
		if !ok {
			return repository.ErrNotFound
		}
		if w.State != entity.WithdrawalStatePending || s.withdrawalClaims[id].activeAt(c.Now) {
			return nil
		}
		s.withdrawalClaims[id] = claim{token: c.Token, expires: c.ExpiresAt()}
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *withdrawalRepo) ClaimDue(ctx context.Context, c repository.Claim) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.run(func(s *state) error {
		var due []entity.WithdrawalRequest
		for id, w := range s.withdrawals {
			if w.State != entity.WithdrawalStatePending || w.NextAttemptAt == nil || w.NextAttemptAt.After(c.Now) {
				continue
			}
			if s.withdrawalClaims[id].activeAt(c.Now) {
				continue
			}
			due = append(due, w)
		}
		slices.SortFunc(due, func(a, b entity.WithdrawalRequest) int {
			return a.NextAttemptAt.Compare(*b.NextAttemptAt)
		})
		for _, w := range page(due, c.Limit, 0) {
			s.withdrawalClaims[w.ID] = claim{token: c.Token, expires: c.ExpiresAt()}
			out = append(out, w.ID)
		}
		return nil
	})
	return out, err
}

func (r *withdrawalRepo) ClaimStaleProcessing(ctx context.Context, updatedBefore time.Time, c repository.Claim) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.run(func(s *state) error {
		var stale []entity.WithdrawalRequest
		for id, w := range s.withdrawals {
			if w.State != entity.WithdrawalStateProcessing || w.UpdatedAt.After(updatedBefore) {
				continue
			}
			if s.withdrawalClaims[id].activeAt(c.Now) {
				continue
			}
			stale = append(stale, w)
		}
		slices.SortFunc(stale, func(a, b entity.WithdrawalRequest) int {
			return a.UpdatedAt.Compare(b.UpdatedAt)
		})
		for _, w := range page(stale, c.Limit, 0) {
			s.withdrawalClaims[w.ID] = claim{token: c.Token, expires: c.ExpiresAt()}
			out = append(out, w.ID)
		}
		return nil
	})
	return out, err
}

func (r *withdrawalRepo) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	return r.run(func(s *state) error {
		if s.withdrawalClaims[id].token == token {
			delete(s.withdrawalClaims, id)
		}
		return nil
	})
}

func (r *withdrawalRepo) HasActiveClaim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	active := false
	err := r.run(func(s *state) error {
		active = s.withdrawalClaims[id].activeAt(now)
		return nil
	})
	return active, err
}

type disputeRepo struct {
	run runner
}

func (r *disputeRepo) Create(ctx context.Context, d *entity.Dispute) error {
	return r.run(func(s *state) error {
		if _, ok := s.disputes[d.ID]; ok {
			return repository.ErrDuplicateKey
		}
		s.disputes[d.ID] = *d
		return nil
	})
}

func (r *disputeRepo) Update(ctx context.Context, d *entity.Dispute) error {
	return r.run(func(s *state) error {
		if _, ok := s.disputes[d.ID]; !ok {
			return repository.ErrNotFound
		}
		s.disputes[d.ID] = *d
		return nil
	})
}

func (r *disputeRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	var out *entity.Dispute
	err := r.run(func(s *state) error {
		d, ok := s.disputes[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func (r *disputeRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return r.FindByID(ctx, id)
}

func (r *disputeRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	var out *entity.Dispute
	err := r.run(func(s *state) error {
		for _, d := range s.disputes {
			if d.OrderID != orderID {
				continue
			}
			if out == nil || d.CreatedAt.After(out.CreatedAt) {
				d := d
				out = &d
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r *disputeRepo) List(ctx context.Context, st entity.DisputeState, limit, offset int) ([]entity.Dispute, error) {
	var out []entity.Dispute
	err := r.run(func(s *state) error {
		var matched []entity.Dispute
		for _, d := range s.disputes {
			if st == "" || d.State == st {
				matched = append(matched, d)
			}
		}
		slices.SortFunc(matched, func(a, b entity.Dispute) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
		out = page(matched, limit, offset)
		return nil
	})
	return out, err
}

type notificationRepo struct {
	run runner
}

func (r *notificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	return r.run(func(s *state) error {
		s.notifications = append(s.notifications, *n)
		return nil
	})
}

func (r *notificationRepo) List(ctx context.Context, userID uuid.UUID, f repository.NotificationFilter, limit, offset int) ([]entity.Notification, error) {
	var out []entity.Notification
	err := r.run(func(s *state) error {
		var matched []entity.Notification
		for i := len(s.notifications) - 1; i >= 0; i-- {
			n := s.notifications[i]
			if n.UserID != userID || (f.UnreadOnly && n.IsRead) || !strings.HasPrefix(n.EventType, f.EventPrefix) {
				continue
			}
			matched = append(matched, n)
		}
		out = page(matched, limit, offset)
		return nil
	})
	return out, err
}

func (r *notificationRepo) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	changed := 0
	err := r.run(func(s *state) error {
		for i := range s.notifications {
			n := &s.notifications[i]
			if n.UserID != userID || n.IsRead {
				continue
			}
			if len(ids) > 0 && !slices.Contains(ids, n.ID) {
				continue
			}
			n.IsRead = true
			changed++
		}
		return nil
	})
	return changed, err
}

func (r *notificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	n := 0
	err := r.run(func(s *state) error {
		for _, item := range s.notifications {
			if item.UserID == userID && !item.IsRead {
				n++
			}
		}
		return nil
	})
	return n, err
}
