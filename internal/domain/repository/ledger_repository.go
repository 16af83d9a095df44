package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type LedgerRepository interface {
	// Insert возвращает ErrDuplicateKey, если ключ идемпотентности уже занят.
	Insert(ctx context.Context, tx *entity.LedgerTransaction) error
	FindByKey(ctx context.Context, key string) (*entity.LedgerTransaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]entity.LedgerEntry, error)
	SumByAccount(ctx context.Context, accountID uuid.UUID) (AccountSums, error)
	SumByCurrency(ctx context.Context) (map[valueobject.Currency]decimal.Decimal, error)
	CountByOrderKind(ctx context.Context, orderID uuid.UUID, kind entity.EntryKind) (int, error)
}

type AccountSums struct {
	Available decimal.Decimal
	Escrow    decimal.Decimal
}

type WalletRepository interface {
	// LockOrCreate создаёт кошелёк при первом обращении и блокирует его строку.
	LockOrCreate(ctx context.Context, accountID uuid.UUID, currency valueobject.Currency) (*entity.Wallet, error)
	FindByID(ctx context.Context, accountID uuid.UUID) (*entity.Wallet, error)
	Save(ctx context.Context, w *entity.Wallet) error
	ListIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error)
}
