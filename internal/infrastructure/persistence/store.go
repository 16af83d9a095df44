// Package persistence реализует репозитории домена поверх PostgreSQL (sqlx + lib/pq).
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// Store единица работы поверх PostgreSQL.
type Store struct {
	db          *sqlx.DB
	maxAttempts int
}

func NewStore(db *sqlx.DB, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

// Do выполняет fn в транзакции SERIALIZABLE и повторяет её при конфликте
// сериализации. После исчерпания попыток возвращает CONFLICT.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.withTransaction(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		logger.Log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Debug("persistence: конфликт сериализации, повтор транзакции")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 5 * time.Millisecond):
		}
	}
	return apperror.Wrap(err, apperror.ErrCodeConflict, apperror.ErrConcurrentUpdate.Message)
}

func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Store репозитории на пуле соединений, каждый запрос в своей транзакции.
func (s *Store) Store() repository.Store {
	return &queries{q: s.db}
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// queries набор репозиториев на соединении или транзакции.
type queries struct {
	q sqlx.ExtContext
}

func (s *queries) Orders() repository.OrderRepository {
	return &OrderRepository{q: s.q}
}
func (s *queries) Ledger() repository.LedgerRepository {
	return &LedgerRepository{q: s.q}
}
func (s *queries) Wallets() repository.WalletRepository {
	return &WalletRepository{q: s.q}
}
func (s *queries) Intents() repository.PaymentIntentRepository {
	return &PaymentIntentRepository{q: s.q}
}
func (s *queries) GatewayEvents() repository.GatewayEventRepository {
	return &GatewayEventRepository{q: s.q}
}
func (s *queries) Withdrawals() repository.WithdrawalRepository {
	return &WithdrawalRepository{q: s.q}
}
func (s *queries) Disputes() repository.DisputeRepository {
	return &DisputeRepository{q: s.q}
}
func (s *queries) Notifications() repository.NotificationRepository {
	return &NotificationRepository{q: s.q}
}

// getOne выполняет запрос одной строки и переводит sql.ErrNoRows в ErrNotFound.
func getOne[T any](ctx context.Context, q sqlx.QueryerContext, op, query string, args ...any) (*T, error) {
	var row T
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &row, nil
}

// execOne выполняет изменение и возвращает notFound, если строка не затронута.
func execOne(ctx context.Context, q sqlx.ExecerContext, op string, notFound error, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func insert(ctx context.Context, q sqlx.ExecerContext, op, query string, args ...any) error {
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
