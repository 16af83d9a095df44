// Package memory хранилище в памяти с семантикой UnitOfWork. Используется в
// тестах сервисов: транзакции выполняются строго по одной, при ошибке
// состояние откатывается к снимку.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
)

type claim struct {
	token   string
	expires time.Time
}

func (c claim) activeAt(now time.Time) bool {
	return c.token != "" && now.Before(c.expires)
}

type state struct {
	orders           map[uuid.UUID]entity.Order
	orderClaims      map[uuid.UUID]claim
	history          []entity.OrderHistory
	deliveries       []entity.Delivery
	ledgerTxs        map[string]entity.LedgerTransaction
	entries          []entity.LedgerEntry
	wallets          map[uuid.UUID]entity.Wallet
	intents          map[uuid.UUID]entity.PaymentIntent
	gatewayEvents    map[string]struct{}
	withdrawals      map[uuid.UUID]entity.WithdrawalRequest
	withdrawalClaims map[uuid.UUID]claim
	disputes         map[uuid.UUID]entity.Dispute
	notifications    []entity.Notification
}

func newState() *state {
	return &state{
		orders:           make(map[uuid.UUID]entity.Order),
		orderClaims:      make(map[uuid.UUID]claim),
		ledgerTxs:        make(map[string]entity.LedgerTransaction),
		wallets:          make(map[uuid.UUID]entity.Wallet),
		intents:          make(map[uuid.UUID]entity.PaymentIntent),
		gatewayEvents:    make(map[string]struct{}),
		withdrawals:      make(map[uuid.UUID]entity.WithdrawalRequest),
		withdrawalClaims: make(map[uuid.UUID]claim),
		disputes:         make(map[uuid.UUID]entity.Dispute),
	}
}

// clone копирует контейнеры. Значения сущностей хранятся по значению,
// поэтому поверхностной копии достаточно.
func (s *state) clone() *state {
	return &state{
		orders:           maps.Clone(s.orders),
		orderClaims:      maps.Clone(s.orderClaims),
		history:          slices.Clone(s.history),
		deliveries:       slices.Clone(s.deliveries),
		ledgerTxs:        maps.Clone(s.ledgerTxs),
		entries:          slices.Clone(s.entries),
		wallets:          maps.Clone(s.wallets),
		intents:          maps.Clone(s.intents),
		gatewayEvents:    maps.Clone(s.gatewayEvents),
		withdrawals:      maps.Clone(s.withdrawals),
		withdrawalClaims: maps.Clone(s.withdrawalClaims),
		disputes:         maps.Clone(s.disputes),
		notifications:    slices.Clone(s.notifications),
	}
}

// DB общее состояние хранилища.
type DB struct {
	mu    sync.Mutex
	state *state

	// BeforeCommit вызывается перед фиксацией транзакции; ошибка откатывает её.
	// Нужен тестам, чтобы сымитировать сбой базы после записи.
	BeforeCommit func() error
}

func New() *DB {
	return &DB{state: newState()}
}

// Do выполняет fn под общим мьютексом и откатывает состояние при ошибке.
func (db *DB) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.state.clone()
	if err := fn(ctx, &txStore{s: db.state}); err != nil {
		db.state = snapshot
		return err
	}
	if db.BeforeCommit != nil {
		if err := db.BeforeCommit(); err != nil {
			db.state = snapshot
			return err
		}
	}
	return nil
}

// Store репозитории вне транзакции: каждый вызов берёт мьютекс отдельно.
// Нельзя вызывать изнутри Do.
func (db *DB) Store() repository.Store {
	return &autoStore{db: db}
}

// txStore работает с состоянием, уже захваченным транзакцией.
type txStore struct {
	s *state
}

func (t *txStore) Orders() repository.OrderRepository {
	return &orderRepo{run: t.run}
}
func (t *txStore) Ledger() repository.LedgerRepository {
	return &ledgerRepo{run: t.run}
}
func (t *txStore) Wallets() repository.WalletRepository {
	return &walletRepo{run: t.run}
}
func (t *txStore) Intents() repository.PaymentIntentRepository {
	return &intentRepo{run: t.run}
}
func (t *txStore) GatewayEvents() repository.GatewayEventRepository {
	return &gatewayEventRepo{run: t.run}
}
func (t *txStore) Withdrawals() repository.WithdrawalRepository {
	return &withdrawalRepo{run: t.run}
}
func (t *txStore) Disputes() repository.DisputeRepository {
	return &disputeRepo{run: t.run}
}
func (t *txStore) Notifications() repository.NotificationRepository {
	return &notificationRepo{run: t.run}
}

func (t *txStore) run(fn func(s *state) error) error {
	return fn(t.s)
}

// autoStore каждый вызов выполняет как отдельную атомарную операцию.
type autoStore struct {
	db *DB
}

func (a *autoStore) run(fn func(s *state) error) error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	return fn(a.db.state)
}

func (a *autoStore) Orders() repository.OrderRepository {
	return &orderRepo{run: a.run}
}
func (a *autoStore) Ledger() repository.LedgerRepository {
	return &ledgerRepo{run: a.run}
}
func (a *autoStore) Wallets() repository.WalletRepository {
	return &walletRepo{run: a.run}
}
func (a *autoStore) Intents() repository.PaymentIntentRepository {
	return &intentRepo{run: a.run}
}
func (a *autoStore) GatewayEvents() repository.GatewayEventRepository {
	return &gatewayEventRepo{run: a.run}
}
func (a *autoStore) Withdrawals() repository.WithdrawalRepository {
	return &withdrawalRepo{run: a.run}
}
func (a *autoStore) Disputes() repository.DisputeRepository {
	return &disputeRepo{run: a.run}
}
func (a *autoStore) Notifications() repository.NotificationRepository {
	return &notificationRepo{run: a.run}
}

type runner func(fn func(s *state) error) error

var timeNow = time.Now

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
