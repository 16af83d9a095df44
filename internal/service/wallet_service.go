package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// WalletService чтение балансов и административные операции над журналом.
type WalletService struct {
	runner
	checker *ledger.Checker
}

func NewWalletService(uow repository.UnitOfWork, l *ledger.Ledger, checker *ledger.Checker, events event.Publisher, currency valueobject.Currency, now func() time.Time) *WalletService {
	return &WalletService{
		runner:  newRunner(uow, l, events, currency, now),
		checker: checker,
	}
}

// Get возвращает кошелёк; пользователь без проводок получает нулевой.
func (s *WalletService) Get(ctx context.Context, userID uuid.UUID) (*entity.Wallet, error) {
	w, err := s.uow.Store().Wallets().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return entity.NewWallet(userID, s.currency, s.now()), nil
		}
		return nil, err
	}
	return w, nil
}

func (s *WalletService) Ledger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.uow.Store().Ledger().ListByAccount(ctx, userID, limit, offset)
}

// GrantReferralBonus начисляет бонус пригласившему из выручки платформы.
// Один бонус на заказ: повторный вызов возвращает false.
func (s *WalletService) GrantReferralBonus(ctx context.Context, referrerID, orderID uuid.UUID, amount valueobject.Money) (bool, error) {
	if !amount.IsPositive() {
		return false, nil
	}
	var granted bool
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		_, dup, err := s.ledger.Append(ctx, tx, ledger.Bonus(referrerID, orderID, amount))
		if err != nil {
			return err
		}
		granted = !dup
		return nil
	})
	if err != nil {
		return false, err
	}
	if granted {
		logger.Log.WithFields(logrus.Fields{
			"referrer_id": referrerID,
			"order_id":    orderID,
			"amount":      amount.String(),
		}).Info("wallet: реферальный бонус начислен")
	}
	return granted, nil
}

// Reconcile прогоняет сверку кэша кошельков с журналом.
func (s *WalletService) Reconcile(ctx context.Context) (ledger.Report, error) {
	return s.checker.Run(ctx)
}

func (s *WalletService) Unfreeze(ctx context.Context, adminID, accountID uuid.UUID) error {
	if err := s.checker.Unfreeze(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "кошелёк не найден")
		}
		return mapStoreError(err)
	}
	logger.Log.WithFields(logrus.Fields{"admin_id": adminID, "account_id": accountID}).Warn("wallet: заморозка снята вручную")
	return nil
}
