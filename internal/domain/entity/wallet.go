package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// Wallet кэш балансов счёта. Пишется только журналом в той же транзакции.
type Wallet struct {
	AccountID         uuid.UUID
	Currency          valueobject.Currency
	Available         decimal.Decimal
	Escrow            decimal.Decimal
	LifetimeEarned    decimal.Decimal
	LifetimeSpent     decimal.Decimal
	LifetimeWithdrawn decimal.Decimal
	Frozen            bool
	FrozenReason      string
	UpdatedAt         time.Time
}

func NewWallet(accountID uuid.UUID, currency valueobject.Currency, now time.Time) *Wallet {
	return &Wallet{
		AccountID:         accountID,
		Currency:          currency,
		Available:         decimal.Zero,
		Escrow:            decimal.Zero,
		LifetimeEarned:    decimal.Zero,
		LifetimeSpent:     decimal.Zero,
		LifetimeWithdrawn: decimal.Zero,
		UpdatedAt:         now,
	}
}

// Counters изменения накопительных счётчиков кошелька.
type Counters struct {
	Earned    decimal.Decimal
	Spent     decimal.Decimal
	Withdrawn decimal.Decimal
}

func (w *Wallet) Apply(e LedgerEntry, c Counters, now time.Time) {
	w.Available = w.Available.Add(e.AvailableDelta)
	w.Escrow = w.Escrow.Add(e.EscrowDelta)
	w.LifetimeEarned = w.LifetimeEarned.Add(c.Earned)
	w.LifetimeSpent = w.LifetimeSpent.Add(c.Spent)
	w.LifetimeWithdrawn = w.LifetimeWithdrawn.Add(c.Withdrawn)
	w.UpdatedAt = now
}

func (w *Wallet) Freeze(reason string, now time.Time) {
	w.Frozen = true
	w.FrozenReason = reason
	w.UpdatedAt = now
}

func (w *Wallet) Unfreeze(now time.Time) {
	w.Frozen = false
	w.FrozenReason = ""
	w.UpdatedAt = now
}
