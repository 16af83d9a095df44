package repository

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrVersionConflict = errors.New("version conflict")
)

// Store набор репозиториев, привязанных к одному соединению или транзакции.
type Store interface {
	Orders() OrderRepository
	Ledger() LedgerRepository
	Wallets() WalletRepository
	Intents() PaymentIntentRepository
	GatewayEvents() GatewayEventRepository
	Withdrawals() WithdrawalRepository
	Disputes() DisputeRepository
	Notifications() NotificationRepository
}

// UnitOfWork выполняет fn в сериализуемой транзакции. Конфликт сериализации
// повторяется, после исчерпания попыток возвращается apperror с кодом CONFLICT.
// fn не должна обращаться к внешним системам.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	// Store возвращает репозитории вне транзакции: чтения и атомарные захваты.
	Store() Store
}
