package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// ImbalanceError набор проводок нарушает инвариант журнала.
type ImbalanceError struct {
	Key      string
	Accounts []uuid.UUID
	Detail   string
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("ledger: imbalance in %s: %s", e.Key, e.Detail)
}

// Ledger единственная точка изменения балансов кошельков.
type Ledger struct {
	now func() time.Time
}

func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Append записывает операцию и обновляет кэш балансов в транзакции tx.
// Повторный вызов с тем же ключом ничего не меняет и возвращает исходный
// набор проводок с duplicate=true.
func (l *Ledger) Append(ctx context.Context, tx repository.Store, req Request) (*entity.LedgerTransaction, bool, error) {
	if req.IdempotencyKey == "" || len(req.Postings) == 0 || req.Currency == "" {
		return nil, false, apperror.New(apperror.ErrCodeInternal, "ledger: пустой запрос на проводку")
	}

	existing, err := tx.Ledger().FindByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("ledger: find by key: %w", err)
	}

	if err := l.checkBalanced(req); err != nil {
		return nil, false, err
	}

	now := l.now()
	wallets, err := l.lockWallets(ctx, tx, req)
	if err != nil {
		return nil, false, err
	}

	ltx := &entity.LedgerTransaction{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		Operation:      string(req.Operation),
		OrderID:        req.OrderID,
		WithdrawalID:   req.WithdrawalID,
		Currency:       req.Currency,
		CreatedAt:      now,
		Entries:        make([]entity.LedgerEntry, 0, len(req.Postings)),
	}
	allowNegative := make(map[uuid.UUID]bool)
	debited := make(map[uuid.UUID]decimal.Decimal)
	for i, p := range req.Postings {
		entry := entity.LedgerEntry{
			ID:             uuid.New(),
			TransactionID:  ltx.ID,
			Leg:            i + 1,
			AccountID:      p.AccountID,
			OrderID:        req.OrderID,
			WithdrawalID:   req.WithdrawalID,
			Kind:           p.Kind,
			AvailableDelta: p.Available,
			EscrowDelta:    p.Escrow,
			Currency:       req.Currency,
			Memo:           p.Memo,
			CreatedAt:      now,
		}
		ltx.Entries = append(ltx.Entries, entry)
		if p.AllowNegative {
			allowNegative[p.AccountID] = true
		}
		debited[p.AccountID] = debited[p.AccountID].Add(p.Available)
		if w, ok := wallets[p.AccountID]; ok {
			w.Apply(entry, p.Counters, now)
		}
	}

	for id, w := range wallets {
		if w.Escrow.IsNegative() {
			return nil, false, l.imbalance(req, []uuid.UUID{id}, "escrow ушёл в минус")
		}
		// зачисление на счёт с долгом после оплаты через шлюз допустимо,
		// списание в минус нет
		if w.Available.IsNegative() && debited[id].IsNegative() && !allowNegative[id] {
			if entity.IsPlatformAccount(id) {
				return nil, false, l.imbalance(req, []uuid.UUID{id}, "отрицательный баланс счёта платформы")
			}
			return nil, false, apperror.ErrInsufficientFunds
		}
	}

	if err := tx.Ledger().Insert(ctx, ltx); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, false, apperror.Wrap(err, apperror.ErrCodeConflict, "операция уже записана параллельным запросом")
		}
		return nil, false, fmt.Errorf("ledger: insert: %w", err)
	}
	for _, w := range wallets {
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return nil, false, fmt.Errorf("ledger: save wallet: %w", err)
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"key":       req.IdempotencyKey,
		"operation": req.Operation,
		"legs":      len(ltx.Entries),
	}).Debug("ledger: операция записана")

	return ltx, false, nil
}

func (l *Ledger) checkBalanced(req Request) error {
	sum := decimal.Zero
	accounts := make([]uuid.UUID, 0, len(req.Postings))
	for _, p := range req.Postings {
		if !p.Available.Equal(valueobject.RoundStorage(p.Available)) || !p.Escrow.Equal(valueobject.RoundStorage(p.Escrow)) {
			return l.imbalance(req, nil, "сумма проводки точнее копейки")
		}
		sum = sum.Add(p.Available).Add(p.Escrow)
		accounts = append(accounts, p.AccountID)
	}
	if !sum.IsZero() {
		return l.imbalance(req, accounts, "сумма проводок "+sum.String())
	}
	return nil
}

// lockWallets блокирует кошельки в порядке идентификаторов, чтобы параллельные
// операции над теми же счетами не взаимоблокировались.
func (l *Ledger) lockWallets(ctx context.Context, tx repository.Store, req Request) (map[uuid.UUID]*entity.Wallet, error) {
	ids := make([]uuid.UUID, 0, len(req.Postings))
	seen := make(map[uuid.UUID]struct{}, len(req.Postings))
	for _, p := range req.Postings {
		if !entity.HasWallet(p.AccountID) {
			continue
		}
		if _, ok := seen[p.AccountID]; ok {
			continue
		}
		seen[p.AccountID] = struct{}{}
		ids = append(ids, p.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return strings.Compare(ids[i].String(), ids[j].String()) < 0
	})

	wallets := make(map[uuid.UUID]*entity.Wallet, len(ids))
	for _, id := range ids {
		w, err := tx.Wallets().LockOrCreate(ctx, id, req.Currency)
		if err != nil {
			return nil, fmt.Errorf("ledger: lock wallet %s: %w", id, err)
		}
		if w.Frozen {
			return nil, apperror.Wrap(fmt.Errorf("wallet %s: %s", id, w.FrozenReason), apperror.ErrCodeWalletFrozen, apperror.ErrWalletFrozen.Message)
		}
		wallets[id] = w
	}
	return wallets, nil
}

func (l *Ledger) imbalance(req Request, accounts []uuid.UUID, detail string) error {
	cause := &ImbalanceError{Key: req.IdempotencyKey, Accounts: accounts, Detail: detail}
	logger.Alert(logger.AlertLedgerIntegrity).WithFields(logrus.Fields{
		"key":       req.IdempotencyKey,
		"operation": req.Operation,
		"accounts":  accounts,
	}).Error(cause.Error())
	return apperror.Wrap(cause, apperror.ErrCodeLedgerImbalance, "нарушен баланс журнала, операция отменена")
}

// Quarantine замораживает пользовательские счета после нарушения баланса.
// Вызывается в отдельной транзакции, так как исходная откатывается.
func (l *Ledger) Quarantine(ctx context.Context, uow repository.UnitOfWork, err error, currency valueobject.Currency) []uuid.UUID {
	var imb *ImbalanceError
	if !errors.As(err, &imb) {
		return nil
	}
	var frozen []uuid.UUID
	qErr := uow.Do(ctx, func(ctx context.Context, tx repository.Store) error {
		frozen = frozen[:0]
		for _, id := range imb.Accounts {
			if entity.IsPlatformAccount(id) {
				continue
			}
			w, err := tx.Wallets().LockOrCreate(ctx, id, currency)
			if err != nil {
				return err
			}
			if w.Frozen {
				continue
			}
			w.Freeze("нарушение баланса: "+imb.Key, l.now())
			if err := tx.Wallets().Save(ctx, w); err != nil {
				return err
			}
			frozen = append(frozen, id)
		}
		return nil
	})
	if qErr != nil {
		logger.Alert(logger.AlertLedgerIntegrity).WithError(qErr).Error("ledger: не удалось заморозить счета")
		return nil
	}
	return frozen
}
