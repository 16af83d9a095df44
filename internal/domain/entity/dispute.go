package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

type DisputeState string

const (
	DisputeStateOpen           DisputeState = "open"
	DisputeStateUnderReview    DisputeState = "under_review"
	DisputeStateResolvedBuyer  DisputeState = "resolved_buyer"
	DisputeStateResolvedSeller DisputeState = "resolved_seller"
	DisputeStateResolvedSplit  DisputeState = "resolved_split"
)

type DisputeOutcome string

const (
	DisputeOutcomeBuyer  DisputeOutcome = "buyer"
	DisputeOutcomeSeller DisputeOutcome = "seller"
	DisputeOutcomeSplit  DisputeOutcome = "split"
)

func (o DisputeOutcome) IsValid() bool {
	return o == DisputeOutcomeBuyer || o == DisputeOutcomeSeller || o == DisputeOutcomeSplit
}

type Dispute struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	OpenerID       uuid.UUID
	Reason         string
	State          DisputeState
	ResolverID     *uuid.UUID
	ResolutionMemo string
	SplitRatio     *decimal.Decimal
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	UpdatedAt      time.Time
}

func NewDispute(orderID, openerID uuid.UUID, reason string, now time.Time) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора обязательна")
	}
	return &Dispute{
		ID:        uuid.New(),
		OrderID:   orderID,
		OpenerID:  openerID,
		Reason:    reason,
		State:     DisputeStateOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (d *Dispute) IsResolved() bool {
	return d.State != DisputeStateOpen && d.State != DisputeStateUnderReview
}

func (d *Dispute) StartReview(adminID uuid.UUID, now time.Time) error {
	if d.State != DisputeStateOpen {
		return apperror.Newf(apperror.ErrCodeInvalidStateTransition, "спор в статусе %s нельзя взять в работу", d.State)
	}
	d.State = DisputeStateUnderReview
	d.ResolverID = &adminID
	d.UpdatedAt = now
	return nil
}

func (d *Dispute) Resolve(adminID uuid.UUID, outcome DisputeOutcome, ratio *decimal.Decimal, memo string, now time.Time) error {
	if d.IsResolved() {
		return apperror.Newf(apperror.ErrCodeInvalidStateTransition, "спор уже закрыт: %s", d.State)
	}
	switch outcome {
	case DisputeOutcomeBuyer:
		d.State = DisputeStateResolvedBuyer
	case DisputeOutcomeSeller:
		d.State = DisputeStateResolvedSeller
	case DisputeOutcomeSplit:
		if ratio == nil {
			return apperror.New(apperror.ErrCodeValidation, "для раздела суммы нужна доля продавца")
		}
		d.State = DisputeStateResolvedSplit
		r := *ratio
		d.SplitRatio = &r
	default:
		return apperror.New(apperror.ErrCodeValidation, "неизвестный исход спора")
	}
	d.ResolverID = &adminID
	d.ResolutionMemo = memo
	d.ResolvedAt = &now
	d.UpdatedAt = now
	return nil
}
