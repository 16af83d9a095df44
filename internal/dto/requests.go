package dto

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest оформление заказа по пакету услуги либо по принятому отклику.
type CheckoutRequest struct {
	GigID        *uuid.UUID `json:"gig_id"`
	PackageTier  string     `json:"package_tier"`
	ProposalID   *uuid.UUID `json:"proposal_id"`
	Requirements string     `json:"requirements" binding:"max=10000"`
	Method       string     `json:"payment_method"`
}

type DeliverRequest struct {
	Note        string   `json:"note" binding:"required,max=10000"`
	Attachments []string `json:"attachments" binding:"max=20"`
}

type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=2000"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// ResolveDisputeRequest решение администратора. ratio доля продавца для split.
type ResolveDisputeRequest struct {
	Outcome string           `json:"outcome" binding:"required,oneof=buyer seller split"`
	Ratio   *decimal.Decimal `json:"ratio"`
	Memo    string           `json:"memo" binding:"max=2000"`
}

// WithdrawalRequest заявка на вывод. Ключ идемпотентности можно передать
// в теле или в заголовке Idempotency-Key.
type WithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Destination    json.RawMessage `json:"destination" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"max=128"`
}

// MarkReadRequest список уведомлений для отметки. Пустой список отмечает все.
type MarkReadRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"max=200"`
}
