package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type OrderRepository struct {
	q sqlx.ExtContext
}

const orderColumns = `
	id, buyer_id, seller_id, gig_id, package_tier, proposal_id, title, description, requirements,
	quoted_amount, quoted_currency, settlement_amount, settlement_currency, fee_rate, delivery_days,
	status, payment_status, created_at, accepted_at, delivered_at, completed_at, cancelled_at,
	disputed_at, updated_at, escrow_released, auto_accept_deadline, revision_budget, revisions_used,
	dispute_id, version`

type orderRow struct {
	ID                 uuid.UUID       `db:"id"`
	BuyerID            uuid.UUID       `db:"buyer_id"`
	SellerID           uuid.UUID       `db:"seller_id"`
	GigID              *uuid.UUID      `db:"gig_id"`
	PackageTier        string          `db:"package_tier"`
	ProposalID         *uuid.UUID      `db:"proposal_id"`
	Title              string          `db:"title"`
	Description        string          `db:"description"`
	Requirements       string          `db:"requirements"`
	QuotedAmount       decimal.Decimal `db:"quoted_amount"`
	QuotedCurrency     string          `db:"quoted_currency"`
	SettlementAmount   decimal.Decimal `db:"settlement_amount"`
	SettlementCurrency string          `db:"settlement_currency"`
	FeeRate            decimal.Decimal `db:"fee_rate"`
	DeliveryDays       int             `db:"delivery_days"`
	Status             string          `db:"status"`
	PaymentStatus      string          `db:"payment_status"`
	CreatedAt          time.Time       `db:"created_at"`
	AcceptedAt         *time.Time      `db:"accepted_at"`
	DeliveredAt        *time.Time      `db:"delivered_at"`
	CompletedAt        *time.Time      `db:"completed_at"`
	CancelledAt        *time.Time      `db:"cancelled_at"`
	DisputedAt         *time.Time      `db:"disputed_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
	EscrowReleased     bool            `db:"escrow_released"`
	AutoAcceptDeadline *time.Time      `db:"auto_accept_deadline"`
	RevisionBudget     int             `db:"revision_budget"`
	RevisionsUsed      int             `db:"revisions_used"`
	DisputeID          *uuid.UUID      `db:"dispute_id"`
	Version            int             `db:"version"`
}

func (r orderRow) toEntity() *entity.Order {
	return &entity.Order{
		ID:                 r.ID,
		BuyerID:            r.BuyerID,
		SellerID:           r.SellerID,
		GigID:              r.GigID,
		PackageTier:        r.PackageTier,
		ProposalID:         r.ProposalID,
		Title:              r.Title,
		Description:        r.Description,
		Requirements:       r.Requirements,
		QuotedPrice:        valueobject.Money{Amount: r.QuotedAmount, Currency: valueobject.Currency(r.QuotedCurrency)},
		SettlementPrice:    valueobject.Money{Amount: r.SettlementAmount, Currency: valueobject.Currency(r.SettlementCurrency)},
		FeeRate:            valueobject.FeeRate{Decimal: r.FeeRate},
		DeliveryDays:       r.DeliveryDays,
		Status:             valueobject.OrderStatus(r.Status),
		PaymentStatus:      valueobject.PaymentStatus(r.PaymentStatus),
		CreatedAt:          r.CreatedAt,
		AcceptedAt:         r.AcceptedAt,
		DeliveredAt:        r.DeliveredAt,
		CompletedAt:        r.CompletedAt,
		CancelledAt:        r.CancelledAt,
		DisputedAt:         r.DisputedAt,
		UpdatedAt:          r.UpdatedAt,
		EscrowReleased:     r.EscrowReleased,
		AutoAcceptDeadline: r.AutoAcceptDeadline,
		RevisionBudget:     r.RevisionBudget,
		RevisionsUsed:      r.RevisionsUsed,
		DisputeID:          r.DisputeID,
		Version:            r.Version,
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, 1)
	`
	err := insert(ctx, r.q, "order repository: create", query,
		o.ID, o.BuyerID, o.SellerID, o.GigID, o.PackageTier, o.ProposalID, o.Title, o.Description, o.Requirements,
		o.QuotedPrice.Amount, string(o.QuotedPrice.Currency), o.SettlementPrice.Amount, string(o.SettlementPrice.Currency),
		o.FeeRate.Decimal, o.DeliveryDays, string(o.Status), string(o.PaymentStatus), o.CreatedAt, o.AcceptedAt,
		o.DeliveredAt, o.CompletedAt, o.CancelledAt, o.DisputedAt, o.UpdatedAt, o.EscrowReleased,
		o.AutoAcceptDeadline, o.RevisionBudget, o.RevisionsUsed, o.DisputeID,
	)
	if err != nil {
		return err
	}
	o.Version = 1
	return nil
}

// Update меняет только изменяемые поля; снимок названия и цены не трогается.
func (r *OrderRepository) Update(ctx context.Context, o *entity.Order) error {
	query := `
		UPDATE orders
		SET status = $3, payment_status = $4, accepted_at = $5, delivered_at = $6, completed_at = $7,
		    cancelled_at = $8, disputed_at = $9, updated_at = $10, escrow_released = $11,
		    auto_accept_deadline = $12, revisions_used = $13, dispute_id = $14, version = version + 1
		WHERE id = $1 AND version = $2
	`
	err := execOne(ctx, r.q, "order repository: update", repository.ErrVersionConflict, query,
		o.ID, o.Version, string(o.Status), string(o.PaymentStatus), o.AcceptedAt, o.DeliveredAt, o.CompletedAt,
		o.CancelledAt, o.DisputedAt, o.UpdatedAt, o.EscrowReleased, o.AutoAcceptDeadline, o.RevisionsUsed, o.DisputeID,
	)
	if err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	row, err := getOne[orderRow](ctx, r.q, "order repository: find by id",
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	row, err := getOne[orderRow](ctx, r.q, "order repository: lock",
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *OrderRepository) List(ctx context.Context, f repository.OrderFilter) ([]*entity.Order, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.BuyerID != nil {
		add("buyer_id = $%d", *f.BuyerID)
	}
	if f.SellerID != nil {
		add("seller_id = $%d", *f.SellerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("order repository: list: %w", err)
	}
	out := make([]*entity.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// ClaimAutoAcceptDue помечает просроченные delivered-заказы токеном обработчика.
// SKIP LOCKED позволяет нескольким обработчикам разбирать очередь параллельно.
func (r *OrderRepository) ClaimAutoAcceptDue(ctx context.Context, c repository.Claim) ([]uuid.UUID, error) {
	query := `
		UPDATE orders SET sweep_claim_token = $1, sweep_claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM orders
			WHERE status = 'delivered' AND auto_accept_deadline <= $3
			  AND (sweep_claim_expires_at IS NULL OR sweep_claim_expires_at <= $3)
			ORDER BY auto_accept_deadline
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`
	return r.claim(ctx, "order repository: claim auto-accept", query, c.Token, c.ExpiresAt(), c.Now, c.Limit)
}

func (r *OrderRepository) ClaimStalePending(ctx context.Context, createdBefore time.Time, c repository.Claim) ([]uuid.UUID, error) {
	query := `
		UPDATE orders SET sweep_claim_token = $1, sweep_claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM orders
			WHERE status = 'pending' AND payment_status = 'awaiting' AND created_at < $5
			  AND (sweep_claim_expires_at IS NULL OR sweep_claim_expires_at <= $3)
			ORDER BY created_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`
	return r.claim(ctx, "order repository: claim stale pending", query, c.Token, c.ExpiresAt(), c.Now, c.Limit, createdBefore)
}

func (r *OrderRepository) claim(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := sqlx.SelectContext(ctx, r.q, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (r *OrderRepository) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE orders SET sweep_claim_token = NULL, sweep_claim_expires_at = NULL
		WHERE id = $1 AND sweep_claim_token = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("order repository: release claim: %w", err)
	}
	return nil
}

type historyRow struct {
	ID         uuid.UUID  `db:"id"`
	OrderID    uuid.UUID  `db:"order_id"`
	ActorID    *uuid.UUID `db:"actor_id"`
	Action     string     `db:"action"`
	FromStatus string     `db:"from_status"`
	ToStatus   string     `db:"to_status"`
	Note       string     `db:"note"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (r *OrderRepository) AppendHistory(ctx context.Context, h *entity.OrderHistory) error {
	return insert(ctx, r.q, "order repository: append history", `
		INSERT INTO order_history (id, order_id, actor_id, action, from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.OrderID, h.ActorID, h.Action, string(h.FromStatus), string(h.ToStatus), h.Note, h.CreatedAt)
}

func (r *OrderRepository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]entity.OrderHistory, error) {
	var rows []historyRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, order_id, actor_id, action, from_status, to_status, note, created_at
		FROM order_history WHERE order_id = $1 ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: list history: %w", err)
	}
	out := make([]entity.OrderHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.OrderHistory{
			ID:         row.ID,
			OrderID:    row.OrderID,
			ActorID:    row.ActorID,
			Action:     row.Action,
			FromStatus: valueobject.OrderStatus(row.FromStatus),
			ToStatus:   valueobject.OrderStatus(row.ToStatus),
			Note:       row.Note,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

type deliveryRow struct {
	ID          uuid.UUID      `db:"id"`
	OrderID     uuid.UUID      `db:"order_id"`
	SellerID    uuid.UUID      `db:"seller_id"`
	Note        string         `db:"note"`
	Attachments pq.StringArray `db:"attachments"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *OrderRepository) AddDelivery(ctx context.Context, d *entity.Delivery) error {
	return insert(ctx, r.q, "order repository: add delivery", `
		INSERT INTO order_deliveries (id, order_id, seller_id, note, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.OrderID, d.SellerID, d.Note, pq.StringArray(d.Attachments), d.CreatedAt)
}

func (r *OrderRepository) ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]entity.Delivery, error) {
	var rows []deliveryRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, order_id, seller_id, note, attachments, created_at
		FROM order_deliveries WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order repository: list deliveries: %w", err)
	}
	out := make([]entity.Delivery, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Delivery{
			ID:          row.ID,
			OrderID:     row.OrderID,
			SellerID:    row.SellerID,
			Note:        row.Note,
			Attachments: []string(row.Attachments),
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
