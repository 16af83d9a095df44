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

type WithdrawalRepository struct {
	q sqlx.ExtContext
}

type withdrawalRow struct {
	ID               uuid.UUID       `db:"id"`
	UserID           uuid.UUID       `db:"user_id"`
	Amount           decimal.Decimal `db:"amount"`
	Currency         string          `db:"currency"`
	Destination      []byte          `db:"destination"`
	State            string          `db:"state"`
	GatewayReference *string         `db:"gateway_reference"`
	Attempts         int             `db:"attempts"`
	NextAttemptAt    *time.Time      `db:"next_attempt_at"`
	FailureReason    string          `db:"failure_reason"`
	IdempotencyKey   *string         `db:"idempotency_key"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r withdrawalRow) toEntity() *entity.WithdrawalRequest {
	w := &entity.WithdrawalRequest{
		ID:            r.ID,
		UserID:        r.UserID,
		Amount:        valueobject.Money{Amount: r.Amount, Currency: valueobject.Currency(r.Currency)},
		Destination:   r.Destination,
		State:         entity.WithdrawalState(r.State),
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.GatewayReference != nil {
		w.GatewayReference = *r.GatewayReference
	}
	if r.IdempotencyKey != nil {
		w.IdempotencyKey = *r.IdempotencyKey
	}
	return w
}

const withdrawalColumns = `id, user_id, amount, currency, destination, state, gateway_reference, attempts,
	next_attempt_at, failure_reason, idempotency_key, created_at, updated_at`

func (r *WithdrawalRepository) Create(ctx context.Context, w *entity.WithdrawalRequest) error {
	return insert(ctx, r.q, "withdrawal repository: create", `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, w.ID, w.UserID, w.Amount.Amount, string(w.Amount.Currency), []byte(w.Destination), string(w.State),
		nullString(w.GatewayReference), w.Attempts, w.NextAttemptAt, w.FailureReason, nullString(w.IdempotencyKey),
		w.CreatedAt, w.UpdatedAt)
}

func (r *WithdrawalRepository) Update(ctx context.Context, w *entity.WithdrawalRequest) error {
	return execOne(ctx, r.q, "withdrawal repository: update", repository.ErrNotFound, `
		UPDATE withdrawal_requests
		SET state = $2, gateway_reference = $3, attempts = $4, next_attempt_at = $5, failure_reason = $6, updated_at = $7
		WHERE id = $1
	`, w.ID, string(w.State), nullString(w.GatewayReference), w.Attempts, w.NextAttemptAt, w.FailureReason, w.UpdatedAt)
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	return r.findOne(ctx, "withdrawal repository: find by id",
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
}

func (r *WithdrawalRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	return r.findOne(ctx, "withdrawal repository: lock",
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *WithdrawalRepository) FindByReference(ctx context.Context, reference string) (*entity.WithdrawalRequest, error) {
	return r.findOne(ctx, "withdrawal repository: find by reference",
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE gateway_reference = $1`, reference)
}

func (r *WithdrawalRepository) FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*entity.WithdrawalRequest, error) {
	return r.findOne(ctx, "withdrawal repository: find by idempotency key",
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (r *WithdrawalRepository) findOne(ctx context.Context, op, query string, args ...any) (*entity.WithdrawalRequest, error) {
	row, err := getOne[withdrawalRow](ctx, r.q, op, query, args...)
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []withdrawalRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: list by user: %w", err)
	}
	out := make([]entity.WithdrawalRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.toEntity())
	}
	return out, nil
}

func (r *WithdrawalRepository) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM withdrawal_requests WHERE user_id = $1 AND created_at >= $2`, userID, since)
	if err != nil {
		return 0, fmt.Errorf("withdrawal repository: count since: %w", err)
	}
	return n, nil
}

func (r *WithdrawalRepository) Claim(ctx context.Context, id uuid.UUID, c repository.Claim) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE withdrawal_requests SET claim_token = $2, claim_expires_at = $3
		WHERE id = $1 AND state = 'pending'
		  AND (claim_expires_at IS NULL OR claim_expires_at <= $4)
	`, id, c.Token, c.ExpiresAt(), c.Now)
	if err != nil {
		return false, fmt.Errorf("withdrawal repository: claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("withdrawal repository: claim rows: %w", err)
	}
	return n == 1, nil
}

func (r *WithdrawalRepository) ClaimDue(ctx context.Context, c repository.Claim) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.q, &ids, `
		UPDATE withdrawal_requests SET claim_token = $1, claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM withdrawal_requests
			WHERE state = 'pending' AND next_attempt_at <= $3
			  AND (claim_expires_at IS NULL OR claim_expires_at <= $3)
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, c.Token, c.ExpiresAt(), c.Now, c.Limit)
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: claim due: %w", err)
	}
	return ids, nil
}

func (r *WithdrawalRepository) ClaimStaleProcessing(ctx context.Context, updatedBefore time.Time, c repository.Claim) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.q, &ids, `
		UPDATE withdrawal_requests SET claim_token = $1, claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM withdrawal_requests
			WHERE state = 'processing' AND updated_at <= $3
			  AND (claim_expires_at IS NULL OR claim_expires_at <= $4)
			ORDER BY updated_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, c.Token, c.ExpiresAt(), updatedBefore, c.Now, c.Limit)
	if err != nil {
		return nil, fmt.Errorf("withdrawal repository: claim stale processing: %w", err)
	}
	return ids, nil
}

func (r *WithdrawalRepository) ReleaseClaim(ctx context.Context, id uuid.UUID, token string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE withdrawal_requests SET claim_token = NULL, claim_expires_at = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("withdrawal repository: release claim: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) HasActiveClaim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var active bool
	err := sqlx.GetContext(ctx, r.q, &active, `
		SELECT claim_token IS NOT NULL AND claim_expires_at > $2
		FROM withdrawal_requests WHERE id = $1
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("withdrawal repository: active claim: %w", err)
	}
	return active, nil
}
