package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type Operation string

const (
	OpHold              Operation = "hold"
	OpRelease           Operation = "release"
	OpRefund            Operation = "refund"
	OpSplitRelease      Operation = "split_release"
	OpWithdrawalPending Operation = "withdrawal_pending"
	OpWithdrawalSettled Operation = "withdrawal_settled"
	OpWithdrawalFailed  Operation = "withdrawal_failed"
	OpBonus             Operation = "bonus"
)

// Posting одна нога операции до записи в журнал.
type Posting struct {
	AccountID uuid.UUID
	Kind      entity.EntryKind
	Available decimal.Decimal
	Escrow    decimal.Decimal
	Memo      string
	Counters  entity.Counters
	// AllowNegative разрешает уйти в минус по available: так списывается
	// оплата покупателя, внесённая через шлюз.
	AllowNegative bool
}

// Request сбалансированный набор проводок под одним ключом идемпотентности.
type Request struct {
	IdempotencyKey string
	Operation      Operation
	OrderID        *uuid.UUID
	WithdrawalID   *uuid.UUID
	Currency       valueobject.Currency
	Postings       []Posting
}

func Key(op Operation, id uuid.UUID) string {
	return string(op) + ":" + id.String()
}

// ReferralBonusKey один бонус на заказ.
func ReferralBonusKey(orderID uuid.UUID) string {
	return "bonus:referral:" + orderID.String()
}

func orderRequest(op Operation, o *entity.Order, postings ...Posting) Request {
	id := o.ID
	return Request{
		IdempotencyKey: Key(op, o.ID),
		Operation:      op,
		OrderID:        &id,
		Currency:       o.SettlementPrice.Currency,
		Postings:       postings,
	}
}

func withdrawalRequest(op Operation, w *entity.WithdrawalRequest, postings ...Posting) Request {
	id := w.ID
	return Request{
		IdempotencyKey: Key(op, w.ID),
		Operation:      op,
		WithdrawalID:   &id,
		Currency:       w.Amount.Currency,
		Postings:       postings,
	}
}

// Hold: покупатель available -P, эскроу платформы +P.
func Hold(o *entity.Order) Request {
	p := o.SettlementPrice.Amount
	return orderRequest(OpHold, o,
		Posting{
			AccountID:     o.BuyerID,
			Kind:          entity.EntryKindHold,
			Available:     p.Neg(),
			Memo:          "оплата заказа",
			Counters:      entity.Counters{Spent: p},
			AllowNegative: true,
		},
		Posting{
			AccountID: entity.PlatformEscrowAccount,
			Kind:      entity.EntryKindHold,
			Escrow:    p,
			Memo:      "удержание в эскроу",
		},
	)
}

// Release: эскроу -P, продавец +(P-fee), выручка платформы +fee.
func Release(o *entity.Order) Request {
	p := o.SettlementPrice.Amount
	fee := o.Fee().Amount
	net := p.Sub(fee)
	return orderRequest(OpRelease, o,
		Posting{
			AccountID: entity.PlatformEscrowAccount,
			Kind:      entity.EntryKindRelease,
			Escrow:    p.Neg(),
			Memo:      "выплата из эскроу",
		},
		Posting{
			AccountID: o.SellerID,
			Kind:      entity.EntryKindRelease,
			Available: net,
			Memo:      "оплата за выполненный заказ",
			Counters:  entity.Counters{Earned: net},
		},
		Posting{
			AccountID: entity.PlatformRevenueAccount,
			Kind:      entity.EntryKindPlatformFee,
			Available: fee,
			Memo:      "комиссия платформы",
		},
	)
}

// Refund: эскроу -P, покупатель +P. Комиссия при возврате не берётся.
func Refund(o *entity.Order) Request {
	p := o.SettlementPrice.Amount
	return orderRequest(OpRefund, o,
		Posting{
			AccountID: entity.PlatformEscrowAccount,
			Kind:      entity.EntryKindRefund,
			Escrow:    p.Neg(),
			Memo:      "возврат из эскроу",
		},
		Posting{
			AccountID: o.BuyerID,
			Kind:      entity.EntryKindRefund,
			Available: p,
			Memo:      "возврат оплаты",
			Counters:  entity.Counters{Spent: p.Neg()},
		},
	)
}

// SplitRelease делит сумму спора: продавец получает r от суммы за вычетом
// комиссии, платформа r от комиссии, покупатель остаток. Остаток считается
// вычитанием, поэтому набор всегда сбалансирован после округления.
func SplitRelease(o *entity.Order, ratio decimal.Decimal) Request {
	p := o.SettlementPrice.Amount
	fee := o.Fee().Amount
	sellerShare := valueobject.RoundStorage(p.Sub(fee).Mul(ratio))
	feeShare := valueobject.RoundStorage(fee.Mul(ratio))
	buyerShare := p.Sub(sellerShare).Sub(feeShare)

	return orderRequest(OpSplitRelease, o,
		Posting{
			AccountID: entity.PlatformEscrowAccount,
			Kind:      entity.EntryKindRelease,
			Escrow:    p.Neg(),
			Memo:      "раздел суммы спора",
		},
		Posting{
			AccountID: o.SellerID,
			Kind:      entity.EntryKindRelease,
			Available: sellerShare,
			Memo:      "доля продавца по решению спора",
			Counters:  entity.Counters{Earned: sellerShare},
		},
		Posting{
			AccountID: entity.PlatformRevenueAccount,
			Kind:      entity.EntryKindPlatformFee,
			Available: feeShare,
			Memo:      "комиссия платформы с доли продавца",
		},
		Posting{
			AccountID: o.BuyerID,
			Kind:      entity.EntryKindRelease,
			Available: buyerShare,
			Memo:      "доля покупателя по решению спора",
			Counters:  entity.Counters{Spent: buyerShare.Neg()},
		},
	)
}

// WithdrawalPending: пользователь available -A, payout-pending +A.
func WithdrawalPending(w *entity.WithdrawalRequest) Request {
	a := w.Amount.Amount
	return withdrawalRequest(OpWithdrawalPending, w,
		Posting{
			AccountID: w.UserID,
			Kind:      entity.EntryKindWithdrawalPending,
			Available: a.Neg(),
			Memo:      "заявка на вывод",
		},
		Posting{
			AccountID: entity.PlatformPayoutPendingAccount,
			Kind:      entity.EntryKindWithdrawalPending,
			Available: a,
			Memo:      "выплата в обработке",
		},
	)
}

// WithdrawalSettled: payout-pending -A, внешний счёт +A. Нулевая нога
// пользователя отмечает выведенную сумму в его кошельке.
func WithdrawalSettled(w *entity.WithdrawalRequest) Request {
	a := w.Amount.Amount
	return withdrawalRequest(OpWithdrawalSettled, w,
		Posting{
			AccountID: entity.PlatformPayoutPendingAccount,
			Kind:      entity.EntryKindWithdrawalSettled,
			Available: a.Neg(),
			Memo:      "выплата проведена",
		},
		Posting{
			AccountID: entity.ExternalAccount,
			Kind:      entity.EntryKindWithdrawalSettled,
			Available: a,
			Memo:      "исходящий перевод",
		},
		Posting{
			AccountID: w.UserID,
			Kind:      entity.EntryKindWithdrawalSettled,
			Memo:      "вывод завершён",
			Counters:  entity.Counters{Withdrawn: a},
		},
	)
}

// WithdrawalFailed компенсирует WithdrawalPending.
func WithdrawalFailed(w *entity.WithdrawalRequest) Request {
	a := w.Amount.Amount
	return withdrawalRequest(OpWithdrawalFailed, w,
		Posting{
			AccountID: entity.PlatformPayoutPendingAccount,
			Kind:      entity.EntryKindWithdrawalFailed,
			Available: a.Neg(),
			Memo:      "выплата не прошла",
		},
		Posting{
			AccountID: w.UserID,
			Kind:      entity.EntryKindWithdrawalFailed,
			Available: a,
			Memo:      "возврат неуспешного вывода",
		},
	)
}

// Bonus реферальное начисление из выручки платформы.
func Bonus(referrerID, orderID uuid.UUID, amount valueobject.Money) Request {
	id := orderID
	b := amount.Amount
	return Request{
		IdempotencyKey: ReferralBonusKey(orderID),
		Operation:      OpBonus,
		OrderID:        &id,
		Currency:       amount.Currency,
		Postings: []Posting{
			{
				AccountID: entity.PlatformRevenueAccount,
				Kind:      entity.EntryKindBonus,
				Available: b.Neg(),
				Memo:      "реферальный бонус",
			},
			{
				AccountID: referrerID,
				Kind:      entity.EntryKindBonus,
				Available: b,
				Memo:      "реферальный бонус",
				Counters:  entity.Counters{Earned: b},
			},
		},
	}
}
