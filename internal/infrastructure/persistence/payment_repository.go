package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
)

type PaymentIntentRepository struct {
	q sqlx.ExtContext
}

type intentRow struct {
	ID               uuid.UUID       `db:"id"`
	OrderID          uuid.UUID       `db:"order_id"`
	GatewayReference *string         `db:"gateway_reference"`
	State            string          `db:"state"`
	Amount           decimal.Decimal `db:"amount"`
	Currency         string          `db:"currency"`
	Method           string          `db:"method"`
	RedirectURL      string          `db:"redirect_url"`
	LastPayloadHash  string          `db:"last_payload_hash"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r intentRow) toEntity() *entity.PaymentIntent {
	p := &entity.PaymentIntent{
		ID:              r.ID,
		OrderID:         r.OrderID,
		State:           entity.IntentState(r.State),
		Amount:          valueobject.Money{Amount: r.Amount, Currency: valueobject.Currency(r.Currency)},
		Method:          r.Method,
		RedirectURL:     r.RedirectURL,
		LastPayloadHash: r.LastPayloadHash,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.GatewayReference != nil {
		p.GatewayReference = *r.GatewayReference
	}
	return p
}

const intentColumns = `id, order_id, gateway_reference, state, amount, currency, method, redirect_url,
	last_payload_hash, created_at, updated_at`

// nullString пустая ссылка хранится как NULL, чтобы не нарушать уникальный индекс.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PaymentIntentRepository) Create(ctx context.Context, p *entity.PaymentIntent) error {
	return insert(ctx, r.q, "payment intent repository: create", `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.OrderID, nullString(p.GatewayReference), string(p.State), p.Amount.Amount, string(p.Amount.Currency),
		p.Method, p.RedirectURL, p.LastPayloadHash, p.CreatedAt, p.UpdatedAt)
}

func (r *PaymentIntentRepository) Update(ctx context.Context, p *entity.PaymentIntent) error {
	return execOne(ctx, r.q, "payment intent repository: update", repository.ErrNotFound, `
		UPDATE payment_intents
		SET gateway_reference = $2, state = $3, redirect_url = $4, last_payload_hash = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, nullString(p.GatewayReference), string(p.State), p.RedirectURL, p.LastPayloadHash, p.UpdatedAt)
}

func (r *PaymentIntentRepository) FindByReference(ctx context.Context, reference string) (*entity.PaymentIntent, error) {
	row, err := getOne[intentRow](ctx, r.q, "payment intent repository: find by reference",
		`SELECT `+intentColumns+` FROM payment_intents WHERE gateway_reference = $1`, reference)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *PaymentIntentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.PaymentIntent, error) {
	row, err := getOne[intentRow](ctx, r.q, "payment intent repository: find by order", `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1
	`, orderID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

type GatewayEventRepository struct {
	q sqlx.ExtContext
}

// Record вставляет событие; конфликт по тройке означает повтор.
func (r *GatewayEventRepository) Record(ctx context.Context, ev entity.GatewayEvent) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO gateway_events (reference, event_type, payload_hash, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reference, event_type, payload_hash) DO NOTHING
	`, ev.Reference, ev.EventType, ev.PayloadHash, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("gateway event repository: record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("gateway event repository: rows affected: %w", err)
	}
	return n == 1, nil
}

type DisputeRepository struct {
	q sqlx.ExtContext
}

type disputeRow struct {
	ID             uuid.UUID           `db:"id"`
	OrderID        uuid.UUID           `db:"order_id"`
	OpenerID       uuid.UUID           `db:"opener_id"`
	Reason         string              `db:"reason"`
	State          string              `db:"state"`
	ResolverID     *uuid.UUID          `db:"resolver_id"`
	ResolutionMemo string              `db:"resolution_memo"`
	SplitRatio     decimal.NullDecimal `db:"split_ratio"`
	CreatedAt      time.Time           `db:"created_at"`
	ResolvedAt     *time.Time          `db:"resolved_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

func (r disputeRow) toEntity() *entity.Dispute {
	d := &entity.Dispute{
		ID:             r.ID,
		OrderID:        r.OrderID,
		OpenerID:       r.OpenerID,
		Reason:         r.Reason,
		State:          entity.DisputeState(r.State),
		ResolverID:     r.ResolverID,
		ResolutionMemo: r.ResolutionMemo,
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.SplitRatio.Valid {
		ratio := r.SplitRatio.Decimal
		d.SplitRatio = &ratio
	}
	return d
}

func splitRatio(d *entity.Dispute) decimal.NullDecimal {
	if d.SplitRatio == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d.SplitRatio)
}

const disputeColumns = `id, order_id, opener_id, reason, state, resolver_id, resolution_memo, split_ratio,
	created_at, resolved_at, updated_at`

func (r *DisputeRepository) Create(ctx context.Context, d *entity.Dispute) error {
	return insert(ctx, r.q, "dispute repository: create", `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.OrderID, d.OpenerID, d.Reason, string(d.State), d.ResolverID, d.ResolutionMemo, splitRatio(d),
		d.CreatedAt, d.ResolvedAt, d.UpdatedAt)
}

func (r *DisputeRepository) Update(ctx context.Context, d *entity.Dispute) error {
	return execOne(ctx, r.q, "dispute repository: update", repository.ErrNotFound, `
		UPDATE disputes
		SET state = $2, resolver_id = $3, resolution_memo = $4, split_ratio = $5, resolved_at = $6, updated_at = $7
		WHERE id = $1
	`, d.ID, string(d.State), d.ResolverID, d.ResolutionMemo, splitRatio(d), d.ResolvedAt, d.UpdatedAt)
}

func (r *DisputeRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(ctx, "dispute repository: find by id",
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
}

func (r *DisputeRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(ctx, "dispute repository: lock",
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
}

func (r *DisputeRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*entity.Dispute, error) {
	return r.findOne(ctx, "dispute repository: find by order",
		`SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (r *DisputeRepository) findOne(ctx context.Context, op, query string, args ...any) (*entity.Dispute, error) {
	row, err := getOne[disputeRow](ctx, r.q, op, query, args...)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *DisputeRepository) List(ctx context.Context, state entity.DisputeState, limit, offset int) ([]entity.Dispute, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []disputeRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list: %w", err)
	}
	out := make([]entity.Dispute, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.toEntity())
	}
	return out, nil
}

type NotificationRepository struct {
	q sqlx.ExtContext
}

type notificationRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	EventType string    `db:"event_type"`
	Payload   []byte    `db:"payload"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	return insert(ctx, r.q, "notification repository: create", `
		INSERT INTO notifications (id, user_id, event_type, payload, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.UserID, n.EventType, []byte(n.Payload), n.IsRead, n.CreatedAt)
}

func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, f repository.NotificationFilter, limit, offset int) ([]entity.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []notificationRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, user_id, event_type, payload, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = FALSE OR is_read = FALSE)
		  AND starts_with(event_type, $3)
		ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5
	`, userID, f.UnreadOnly, f.EventPrefix, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("notification repository: list: %w", err)
	}
	out := make([]entity.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			EventType: row.EventType,
			Payload:   row.Payload,
			IsRead:    row.IsRead,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	keys := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND is_read = FALSE
		  AND (cardinality($2::uuid[]) = 0 OR id = ANY($2::uuid[]))
	`, userID, keys)
	if err != nil {
		return 0, fmt.Errorf("notification repository: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("notification repository: mark read rows: %w", err)
	}
	return int(n), nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("notification repository: count unread: %w", err)
	}
	return n, nil
}
