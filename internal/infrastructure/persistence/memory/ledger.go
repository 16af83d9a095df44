package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type ledgerRepo struct {
	run runner
}

func (r *ledgerRepo) Insert(ctx context.Context, tx *entity.LedgerTransaction) error {
	return r.run(func(s *state) error {
		if _, ok := s.ledgerTxs[tx.IdempotencyKey]; ok {
			return repository.ErrDuplicateKey
		}
		stored := *tx
		stored.Entries = slices.Clone(tx.Entries)
		s.ledgerTxs[tx.IdempotencyKey] = stored
		s.entries = append(s.entries, tx.Entries...)
		return nil
	})
}

func (r *ledgerRepo) FindByKey(ctx context.Context, key string) (*entity.LedgerTransaction, error) {
	var out *entity.LedgerTransaction
	err := r.run(func(s *state) error {
		tx, ok := s.ledgerTxs[key]
		if !ok {
			return repository.ErrNotFound
		}
		tx.Entries = slices.Clone(tx.Entries)
		out = &tx
		return nil
	})
	return out, err
}

func (r *ledgerRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.LedgerEntry, error) {
	var out []entity.LedgerEntry
	err := r.run(func(s *state) error {
		for _, e := range s.entries {
			if e.OrderID != nil && *e.OrderID == orderID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]entity.LedgerEntry, error) {
	var out []entity.LedgerEntry
	err := r.run(func(s *state) error {
		var matched []entity.LedgerEntry
		for i := len(s.entries) - 1; i >= 0; i-- {
			if s.entries[i].AccountID == accountID {
				matched = append(matched, s.entries[i])
			}
		}
		out = page(matched, limit, offset)
		return nil
	})
	return out, err
}

func (r *ledgerRepo) SumByAccount(ctx context.Context, accountID uuid.UUID) (repository.AccountSums, error) {
	sums := repository.AccountSums{Available: decimal.Zero, Escrow: decimal.Zero}
	err := r.run(func(s *state) error {
		for _, e := range s.entries {
			if e.AccountID != accountID {
				continue
			}
			sums.Available = sums.Available.Add(e.AvailableDelta)
			sums.Escrow = sums.Escrow.Add(e.EscrowDelta)
		}
		return nil
	})
	return sums, err
}

func (r *ledgerRepo) SumByCurrency(ctx context.Context) (map[valueobject.Currency]decimal.Decimal, error) {
	out := make(map[valueobject.Currency]decimal.Decimal)
	err := r.run(func(s *state) error {
		for _, e := range s.entries {
			sum, ok := out[e.Currency]
			if !ok {
				sum = decimal.Zero
			}
			out[e.Currency] = sum.Add(e.Total())
		}
		return nil
	})
	return out, err
}

func (r *ledgerRepo) CountByOrderKind(ctx context.Context, orderID uuid.UUID, kind entity.EntryKind) (int, error) {
	n := 0
	err := r.run(func(s *state) error {
		for _, e := range s.entries {
			if e.OrderID != nil && *e.OrderID == orderID && e.Kind == kind {
				n++
			}
		}
		return nil
	})
	return n, err
}

type walletRepo struct {
	run runner
}

func (r *walletRepo) LockOrCreate(ctx context.Context, accountID uuid.UUID, currency valueobject.Currency) (*entity.Wallet, error) {
	var out *entity.Wallet
	err := r.run(func(s *state) error {
		w, ok := s.wallets[accountID]
		if !ok {
			w = *entity.NewWallet(accountID, currency, timeNow())
			s.wallets[accountID] = w
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *walletRepo) FindByID(ctx context.Context, accountID uuid.UUID) (*entity.Wallet, error) {
	var out *entity.Wallet
	err := r.run(func(s *state) error {
		w, ok := s.wallets[accountID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *walletRepo) Save(ctx context.Context, w *entity.Wallet) error {
	return r.run(func(s *state) error {
		s.wallets[w.AccountID] = *w
		return nil
	})
}

func (r *walletRepo) ListIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.run(func(s *state) error {
		after := afterID.String()
		ids := make([]uuid.UUID, 0, len(s.wallets))
		for id := range s.wallets {
			if strings.Compare(id.String(), after) > 0 {
				ids = append(ids, id)
			}
		}
		slices.SortFunc(ids, func(a, b uuid.UUID) int {
			return strings.Compare(a.String(), b.String())
		})
		out = page(ids, limit, 0)
		return nil
	})
	return out, err
}

// SetWallet записывает кошелёк в обход журнала. Только для тестов сверки.
func (db *DB) SetWallet(w entity.Wallet) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.state.wallets[w.AccountID] = w
}
