package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// LedgerRepository журнал проводок. Таблицы только пополняются.
type LedgerRepository struct {
	q sqlx.ExtContext
}

type ledgerTxRow struct {
	ID             uuid.UUID  `db:"id"`
	IdempotencyKey string     `db:"idempotency_key"`
	Operation      string     `db:"operation"`
	OrderID        *uuid.UUID `db:"order_id"`
	WithdrawalID   *uuid.UUID `db:"withdrawal_id"`
	Currency       string     `db:"currency"`
	CreatedAt      time.Time  `db:"created_at"`
}

type ledgerEntryRow struct {
	ID             uuid.UUID       `db:"id"`
	TransactionID  uuid.UUID       `db:"transaction_id"`
	Leg            int             `db:"leg"`
	AccountID      uuid.UUID       `db:"account_id"`
	OrderID        *uuid.UUID      `db:"order_id"`
	WithdrawalID   *uuid.UUID      `db:"withdrawal_id"`
	Kind           string          `db:"kind"`
	AvailableDelta decimal.Decimal `db:"available_delta"`
	EscrowDelta    decimal.Decimal `db:"escrow_delta"`
	Currency       string          `db:"currency"`
	Memo           string          `db:"memo"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r ledgerEntryRow) toEntity() entity.LedgerEntry {
	return entity.LedgerEntry{
		ID:             r.ID,
		TransactionID:  r.TransactionID,
		Leg:            r.Leg,
		AccountID:      r.AccountID,
		OrderID:        r.OrderID,
		WithdrawalID:   r.WithdrawalID,
		Kind:           entity.EntryKind(r.Kind),
		AvailableDelta: r.AvailableDelta,
		EscrowDelta:    r.EscrowDelta,
		Currency:       valueobject.Currency(r.Currency),
		Memo:           r.Memo,
		CreatedAt:      r.CreatedAt,
	}
}

const entryColumns = `id, transaction_id, leg, account_id, order_id, withdrawal_id, kind,
	available_delta, escrow_delta, currency, memo, created_at`

func (r *LedgerRepository) Insert(ctx context.Context, tx *entity.LedgerTransaction) error {
	err := insert(ctx, r.q, "ledger repository: insert transaction", `
		INSERT INTO ledger_transactions (id, idempotency_key, operation, order_id, withdrawal_id, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.IdempotencyKey, tx.Operation, tx.OrderID, tx.WithdrawalID, string(tx.Currency), tx.CreatedAt)
	if err != nil {
		return err
	}

	for _, e := range tx.Entries {
		err := insert(ctx, r.q, "ledger repository: insert entry", `
			INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, e.ID, e.TransactionID, e.Leg, e.AccountID, e.OrderID, e.WithdrawalID, string(e.Kind),
			e.AvailableDelta, e.EscrowDelta, string(e.Currency), e.Memo, e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *LedgerRepository) FindByKey(ctx context.Context, key string) (*entity.LedgerTransaction, error) {
	row, err := getOne[ledgerTxRow](ctx, r.q, "ledger repository: find by key", `
		SELECT id, idempotency_key, operation, order_id, withdrawal_id, currency, created_at
		FROM ledger_transactions WHERE idempotency_key = $1
	`, key)
	if err != nil {
		return nil, err
	}

	var entries []ledgerEntryRow
	err = sqlx.SelectContext(ctx, r.q, &entries,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE transaction_id = $1 ORDER BY leg`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: entries of %s: %w", key, err)
	}

	tx := &entity.LedgerTransaction{
		ID:             row.ID,
		IdempotencyKey: row.IdempotencyKey,
		Operation:      row.Operation,
		OrderID:        row.OrderID,
		WithdrawalID:   row.WithdrawalID,
		Currency:       valueobject.Currency(row.Currency),
		CreatedAt:      row.CreatedAt,
		Entries:        make([]entity.LedgerEntry, 0, len(entries)),
	}
	for _, e := range entries {
		tx.Entries = append(tx.Entries, e.toEntity())
	}
	return tx, nil
}

func (r *LedgerRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]entity.LedgerEntry, error) {
	return r.list(ctx, "ledger repository: list by order",
		`SELECT `+entryColumns+` FROM ledger_entries WHERE order_id = $1 ORDER BY created_at, leg`, orderID)
}

func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]entity.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, "ledger repository: list by account", `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC, leg DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
}

func (r *LedgerRepository) list(ctx context.Context, op, query string, args ...any) ([]entity.LedgerEntry, error) {
	var rows []ledgerEntryRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]entity.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (r *LedgerRepository) SumByAccount(ctx context.Context, accountID uuid.UUID) (repository.AccountSums, error) {
	var sums struct {
		Available decimal.Decimal `db:"available"`
		Escrow    decimal.Decimal `db:"escrow"`
	}
	err := sqlx.GetContext(ctx, r.q, &sums, `
		SELECT COALESCE(SUM(available_delta), 0) AS available, COALESCE(SUM(escrow_delta), 0) AS escrow
		FROM ledger_entries WHERE account_id = $1
	`, accountID)
	if err != nil {
		return repository.AccountSums{}, fmt.Errorf("ledger repository: sum by account: %w", err)
	}
	return repository.AccountSums{Available: sums.Available, Escrow: sums.Escrow}, nil
}

func (r *LedgerRepository) SumByCurrency(ctx context.Context) (map[valueobject.Currency]decimal.Decimal, error) {
	var rows []struct {
		Currency string          `db:"currency"`
		Total    decimal.Decimal `db:"total"`
	}
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT currency, SUM(available_delta + escrow_delta) AS total
		FROM ledger_entries GROUP BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: sum by currency: %w", err)
	}
	out := make(map[valueobject.Currency]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[valueobject.Currency(row.Currency)] = row.Total
	}
	return out, nil
}

func (r *LedgerRepository) CountByOrderKind(ctx context.Context, orderID uuid.UUID, kind entity.EntryKind) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM ledger_entries WHERE order_id = $1 AND kind = $2`, orderID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("ledger repository: count by order kind: %w", err)
	}
	return n, nil
}

// WalletRepository кэш балансов. Пишется только из ledger.Append.
type WalletRepository struct {
	q sqlx.ExtContext
}

type walletRow struct {
	AccountID         uuid.UUID       `db:"account_id"`
	Currency          string          `db:"currency"`
	Available         decimal.Decimal `db:"available"`
	Escrow            decimal.Decimal `db:"escrow"`
	LifetimeEarned    decimal.Decimal `db:"lifetime_earned"`
	LifetimeSpent     decimal.Decimal `db:"lifetime_spent"`
	LifetimeWithdrawn decimal.Decimal `db:"lifetime_withdrawn"`
	Frozen            bool            `db:"frozen"`
	FrozenReason      string          `db:"frozen_reason"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r walletRow) toEntity() *entity.Wallet {
	return &entity.Wallet{
		AccountID:         r.AccountID,
		Currency:          valueobject.Currency(r.Currency),
		Available:         r.Available,
		Escrow:            r.Escrow,
		LifetimeEarned:    r.LifetimeEarned,
		LifetimeSpent:     r.LifetimeSpent,
		LifetimeWithdrawn: r.LifetimeWithdrawn,
		Frozen:            r.Frozen,
		FrozenReason:      r.FrozenReason,
		UpdatedAt:         r.UpdatedAt,
	}
}

const walletColumns = `account_id, currency, available, escrow, lifetime_earned, lifetime_spent,
	lifetime_withdrawn, frozen, frozen_reason, updated_at`

func (r *WalletRepository) LockOrCreate(ctx context.Context, accountID uuid.UUID, currency valueobject.Currency) (*entity.Wallet, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO wallets (account_id, currency, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, string(currency))
	if err != nil {
		return nil, fmt.Errorf("wallet repository: ensure: %w", err)
	}
	row, err := getOne[walletRow](ctx, r.q, "wallet repository: lock",
		`SELECT `+walletColumns+` FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *WalletRepository) FindByID(ctx context.Context, accountID uuid.UUID) (*entity.Wallet, error) {
	row, err := getOne[walletRow](ctx, r.q, "wallet repository: find by id",
		`SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *WalletRepository) Save(ctx context.Context, w *entity.Wallet) error {
	return execOne(ctx, r.q, "wallet repository: save", repository.ErrNotFound, `
		UPDATE wallets
		SET available = $2, escrow = $3, lifetime_earned = $4, lifetime_spent = $5,
		    lifetime_withdrawn = $6, frozen = $7, frozen_reason = $8, updated_at = $9
		WHERE account_id = $1
	`, w.AccountID, w.Available, w.Escrow, w.LifetimeEarned, w.LifetimeSpent, w.LifetimeWithdrawn,
		w.Frozen, w.FrozenReason, w.UpdatedAt)
}

func (r *WalletRepository) ListIDs(ctx context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.q, &ids,
		`SELECT account_id FROM wallets WHERE account_id > $1 ORDER BY account_id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet repository: list ids: %w", err)
	}
	return ids, nil
}
