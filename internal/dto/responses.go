package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

// MoneyResponse сумма с двумя знаками в строке, чтобы клиент не терял точность.
type MoneyResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func Money(m valueobject.Money) MoneyResponse {
	return MoneyResponse{Amount: m.Amount.StringFixed(valueobject.StoragePlaces), Currency: string(m.Currency)}
}

type OrderResponse struct {
	ID                 uuid.UUID     `json:"id"`
	BuyerID            uuid.UUID     `json:"buyer_id"`
	SellerID           uuid.UUID     `json:"seller_id"`
	GigID              *uuid.UUID    `json:"gig_id,omitempty"`
	PackageTier        string        `json:"package_tier,omitempty"`
	ProposalID         *uuid.UUID    `json:"proposal_id,omitempty"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Requirements       string        `json:"requirements,omitempty"`
	QuotedPrice        MoneyResponse `json:"quoted_price"`
	SettlementPrice    MoneyResponse `json:"settlement_price"`
	Fee                MoneyResponse `json:"fee"`
	SellerNet          MoneyResponse `json:"seller_net"`
	DeliveryDays       int           `json:"delivery_days"`
	Status             string        `json:"status"`
	PaymentStatus      string        `json:"payment_status"`
	EscrowReleased     bool          `json:"escrow_released"`
	RevisionBudget     int           `json:"revision_budget"`
	RevisionsUsed      int           `json:"revisions_used"`
	DisputeID          *uuid.UUID    `json:"dispute_id,omitempty"`
	AutoAcceptDeadline *time.Time    `json:"auto_accept_deadline,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	AcceptedAt         *time.Time    `json:"accepted_at,omitempty"`
	DeliveredAt        *time.Time    `json:"delivered_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func Order(o *entity.Order) OrderResponse {
	return OrderResponse{
		ID:                 o.ID,
		BuyerID:            o.BuyerID,
		SellerID:           o.SellerID,
		GigID:              o.GigID,
		PackageTier:        o.PackageTier,
		ProposalID:         o.ProposalID,
		Title:              o.Title,
		Description:        o.Description,
		Requirements:       o.Requirements,
		QuotedPrice:        Money(o.QuotedPrice),
		SettlementPrice:    Money(o.SettlementPrice),
		Fee:                Money(o.Fee()),
		SellerNet:          Money(o.SellerNet()),
		DeliveryDays:       o.DeliveryDays,
		Status:             string(o.Status),
		PaymentStatus:      string(o.PaymentStatus),
		EscrowReleased:     o.EscrowReleased,
		RevisionBudget:     o.RevisionBudget,
		RevisionsUsed:      o.RevisionsUsed,
		DisputeID:          o.DisputeID,
		AutoAcceptDeadline: o.AutoAcceptDeadline,
		CreatedAt:          o.CreatedAt,
		AcceptedAt:         o.AcceptedAt,
		DeliveredAt:        o.DeliveredAt,
		CompletedAt:        o.CompletedAt,
		CancelledAt:        o.CancelledAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func Orders(list []*entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, Order(o))
	}
	return out
}

type PaymentIntentResponse struct {
	ID          uuid.UUID     `json:"id"`
	State       string        `json:"state"`
	Amount      MoneyResponse `json:"amount"`
	Method      string        `json:"method"`
	Reference   string        `json:"gateway_reference,omitempty"`
	RedirectURL string        `json:"redirect_url,omitempty"`
}

func PaymentIntent(p *entity.PaymentIntent) *PaymentIntentResponse {
	if p == nil {
		return nil
	}
	return &PaymentIntentResponse{
		ID:          p.ID,
		State:       string(p.State),
		Amount:      Money(p.Amount),
		Method:      p.Method,
		Reference:   p.GatewayReference,
		RedirectURL: p.RedirectURL,
	}
}

type CheckoutResponse struct {
	Order   OrderResponse          `json:"order"`
	Payment *PaymentIntentResponse `json:"payment"`
}

type LedgerEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	TransactionID  uuid.UUID  `json:"transaction_id"`
	AccountID      uuid.UUID  `json:"account_id"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	WithdrawalID   *uuid.UUID `json:"withdrawal_id,omitempty"`
	Kind           string     `json:"kind"`
	AvailableDelta string     `json:"available_delta"`
	EscrowDelta    string     `json:"escrow_delta"`
	Currency       string     `json:"currency"`
	Memo           string     `json:"memo,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func LedgerEntries(entries []entity.LedgerEntry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntryResponse{
			ID:             e.ID,
			TransactionID:  e.TransactionID,
			AccountID:      e.AccountID,
			OrderID:        e.OrderID,
			WithdrawalID:   e.WithdrawalID,
			Kind:           string(e.Kind),
			AvailableDelta: e.AvailableDelta.StringFixed(valueobject.StoragePlaces),
			EscrowDelta:    e.EscrowDelta.StringFixed(valueobject.StoragePlaces),
			Currency:       string(e.Currency),
			Memo:           e.Memo,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

type HistoryResponse struct {
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	FromStatus string     `json:"from_status,omitempty"`
	ToStatus   string     `json:"to_status"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type DeliveryResponse struct {
	ID          uuid.UUID `json:"id"`
	Note        string    `json:"note"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderDetailsResponse заказ вместе с проекцией журнала и историей переходов.
type OrderDetailsResponse struct {
	Order      OrderResponse          `json:"order"`
	Payment    *PaymentIntentResponse `json:"payment,omitempty"`
	Ledger     []LedgerEntryResponse  `json:"ledger"`
	History    []HistoryResponse      `json:"history"`
	Deliveries []DeliveryResponse     `json:"deliveries"`
}

func OrderDetails(o *entity.Order, intent *entity.PaymentIntent, ledger []entity.LedgerEntry, history []entity.OrderHistory, deliveries []entity.Delivery) OrderDetailsResponse {
	resp := OrderDetailsResponse{
		Order:      Order(o),
		Payment:    PaymentIntent(intent),
		Ledger:     LedgerEntries(ledger),
		History:    make([]HistoryResponse, 0, len(history)),
		Deliveries: make([]DeliveryResponse, 0, len(deliveries)),
	}
	for _, h := range history {
		resp.History = append(resp.History, HistoryResponse{
			ActorID:    h.ActorID,
			Action:     h.Action,
			FromStatus: string(h.FromStatus),
			ToStatus:   string(h.ToStatus),
			Note:       h.Note,
			CreatedAt:  h.CreatedAt,
		})
	}
	for _, d := range deliveries {
		attachments := d.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		resp.Deliveries = append(resp.Deliveries, DeliveryResponse{
			ID:          d.ID,
			Note:        d.Note,
			Attachments: attachments,
			CreatedAt:   d.CreatedAt,
		})
	}
	return resp
}

type DisputeResponse struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	OpenerID       uuid.UUID  `json:"opener_id"`
	Reason         string     `json:"reason"`
	State          string     `json:"state"`
	ResolverID     *uuid.UUID `json:"resolver_id,omitempty"`
	ResolutionMemo string     `json:"resolution_memo,omitempty"`
	SplitRatio     *string    `json:"split_ratio,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func Dispute(d *entity.Dispute) DisputeResponse {
	resp := DisputeResponse{
		ID:             d.ID,
		OrderID:        d.OrderID,
		OpenerID:       d.OpenerID,
		Reason:         d.Reason,
		State:          string(d.State),
		ResolverID:     d.ResolverID,
		ResolutionMemo: d.ResolutionMemo,
		CreatedAt:      d.CreatedAt,
		ResolvedAt:     d.ResolvedAt,
	}
	if d.SplitRatio != nil {
		r := d.SplitRatio.String()
		resp.SplitRatio = &r
	}
	return resp
}

type ResolveDisputeResponse struct {
	Dispute DisputeResponse `json:"dispute"`
	Order   OrderResponse   `json:"order"`
}

type WithdrawalResponse struct {
	ID               uuid.UUID       `json:"id"`
	Amount           MoneyResponse   `json:"amount"`
	Destination      json.RawMessage `json:"destination"`
	State            string          `json:"state"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	Attempts         int             `json:"attempts"`
	NextAttemptAt    *time.Time      `json:"next_attempt_at,omitempty"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func Withdrawal(w *entity.WithdrawalRequest) WithdrawalResponse {
	return WithdrawalResponse{
		ID:               w.ID,
		Amount:           Money(w.Amount),
		Destination:      w.Destination,
		State:            string(w.State),
		GatewayReference: w.GatewayReference,
		Attempts:         w.Attempts,
		NextAttemptAt:    w.NextAttemptAt,
		FailureReason:    w.FailureReason,
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
	}
}

type WalletResponse struct {
	Currency          string    `json:"currency"`
	Available         string    `json:"available"`
	Escrow            string    `json:"escrow"`
	LifetimeEarned    string    `json:"lifetime_earned"`
	LifetimeSpent     string    `json:"lifetime_spent"`
	LifetimeWithdrawn string    `json:"lifetime_withdrawn"`
	Frozen            bool      `json:"frozen"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func Wallet(w *entity.Wallet) WalletResponse {
	const p = valueobject.StoragePlaces
	return WalletResponse{
		Currency:          string(w.Currency),
		Available:         w.Available.StringFixed(p),
		Escrow:            w.Escrow.StringFixed(p),
		LifetimeEarned:    w.LifetimeEarned.StringFixed(p),
		LifetimeSpent:     w.LifetimeSpent.StringFixed(p),
		LifetimeWithdrawn: w.LifetimeWithdrawn.StringFixed(p),
		Frozen:            w.Frozen,
		UpdatedAt:         w.UpdatedAt,
	}
}

type NotificationResponse struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

// InboxResponse страница входящих и число непрочитанных.
type InboxResponse struct {
	Items  []NotificationResponse `json:"items"`
	Unread int                    `json:"unread"`
}

func Inbox(items []entity.Notification, unread int) InboxResponse {
	out := InboxResponse{Items: make([]NotificationResponse, 0, len(items)), Unread: unread}
	for _, n := range items {
		out.Items = append(out.Items, NotificationResponse{
			ID:        n.ID,
			Type:      n.EventType,
			Data:      n.Payload,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	return out
}

type SuccessResponse struct {
	Message string `json:"message"`
}
