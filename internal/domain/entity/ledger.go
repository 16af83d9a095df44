package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type EntryKind string

const (
	EntryKindHold              EntryKind = "hold"
	EntryKindRelease           EntryKind = "release"
	EntryKindRefund            EntryKind = "refund"
	EntryKindPlatformFee       EntryKind = "platform_fee"
	EntryKindWithdrawalPending EntryKind = "withdrawal_pending"
	EntryKindWithdrawalSettled EntryKind = "withdrawal_settled"
	EntryKindWithdrawalFailed  EntryKind = "withdrawal_failed"
	EntryKindBonus             EntryKind = "bonus"
)

// Счета платформы. External не имеет кошелька: это деньги, ушедшие наружу.
var (
	PlatformEscrowAccount        = uuid.MustParse("00000000-0000-0000-0000-0000000000e1")
	PlatformRevenueAccount       = uuid.MustParse("00000000-0000-0000-0000-0000000000e2")
	PlatformPayoutPendingAccount = uuid.MustParse("00000000-0000-0000-0000-0000000000e3")
	ExternalAccount              = uuid.MustParse("00000000-0000-0000-0000-0000000000e4")
)

func IsPlatformAccount(id uuid.UUID) bool {
	switch id {
	case PlatformEscrowAccount, PlatformRevenueAccount, PlatformPayoutPendingAccount, ExternalAccount:
		return true
	}
	return false
}

// HasWallet false только для внешнего счёта.
func HasWallet(id uuid.UUID) bool {
	return id != ExternalAccount
}

// LedgerEntry одна проводка. Никогда не изменяется и не удаляется.
type LedgerEntry struct {
	ID             uuid.UUID
	TransactionID  uuid.UUID
	Leg            int
	AccountID      uuid.UUID
	OrderID        *uuid.UUID
	WithdrawalID   *uuid.UUID
	Kind           EntryKind
	AvailableDelta decimal.Decimal
	EscrowDelta    decimal.Decimal
	Currency       valueobject.Currency
	Memo           string
	CreatedAt      time.Time
}

// Total изменение available+escrow по проводке.
func (e LedgerEntry) Total() decimal.Decimal {
	return e.AvailableDelta.Add(e.EscrowDelta)
}

// LedgerTransaction сбалансированный набор проводок одной операции.
type LedgerTransaction struct {
	ID             uuid.UUID
	IdempotencyKey string
	Operation      string
	OrderID        *uuid.UUID
	WithdrawalID   *uuid.UUID
	Currency       valueobject.Currency
	CreatedAt      time.Time
	Entries        []LedgerEntry
}

// Accounts возвращает счета транзакции без повторов.
func (t *LedgerTransaction) Accounts() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(t.Entries))
	out := make([]uuid.UUID, 0, len(t.Entries))
	for _, e := range t.Entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		out = append(out, e.AccountID)
	}
	return out
}
