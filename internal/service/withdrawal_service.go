package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/entity"
	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// WithdrawalPolicy ограничения на вывод средств.
type WithdrawalPolicy struct {
	Currency    valueobject.Currency
	MinAmount   decimal.Decimal
	RateLimit   int
	RateWindow  time.Duration
	RetryBase   time.Duration
	MaxAttempts int
	Lease       time.Duration
}

type WithdrawalService struct {
	runner
	gw     gateway.Gateway
	policy WithdrawalPolicy
}

func NewWithdrawalService(uow repository.UnitOfWork, l *ledger.Ledger, gw gateway.Gateway, events event.Publisher, policy WithdrawalPolicy, now func() time.Time) *WithdrawalService {
	if policy.Lease <= 0 {
		policy.Lease = 2 * time.Minute
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &WithdrawalService{
		runner: newRunner(uow, l, events, policy.Currency, now),
		gw:     gw,
		policy: policy,
	}
}

type WithdrawalInput struct {
	Amount         decimal.Decimal
	Destination    json.RawMessage
	IdempotencyKey string
}

// Request резервирует средства под вывод и сразу делает первую попытку выплаты.
// duplicate=true, если заявка с тем же ключом уже существует.
func (s *WithdrawalService) Request(ctx context.Context, userID uuid.UUID, in WithdrawalInput) (*entity.WithdrawalRequest, bool, error) {
	amount, err := s.validate(in)
	if err != nil {
		return nil, false, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if existing, err := s.uow.Store().Withdrawals().FindByIdempotencyKey(ctx, userID, key); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
	}

	var w *entity.WithdrawalRequest
	err = s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		now := s.now()
		n, err := tx.Withdrawals().CountSince(ctx, userID, now.Add(-s.policy.RateWindow))
		if err != nil {
			return err
		}
		if s.policy.RateLimit > 0 && n >= s.policy.RateLimit {
			return apperror.ErrRateLimited
		}
		w = entity.NewWithdrawalRequest(userID, amount, in.Destination, key, now)
		if err := tx.Withdrawals().Create(ctx, w); err != nil {
			return err
		}
		if _, _, err := s.ledger.Append(ctx, tx, ledger.WithdrawalPending(w)); err != nil {
			return err
		}
		ob.add(withdrawalEvent(event.WithdrawalRequested, w, now))
		return nil
	})
	if err != nil {
		if key != "" && errors.Is(err, repository.ErrDuplicateKey) {
			// параллельный запрос с тем же ключом успел первым
			existing, findErr := s.uow.Store().Withdrawals().FindByIdempotencyKey(ctx, userID, key)
			if findErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	logger.Log.WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"user_id":       userID,
		"amount":        w.Amount.String(),
	}).Info("withdrawal: заявка создана")

	if err := s.Attempt(ctx, w.ID); err != nil {
		logger.Log.WithError(err).WithField("withdrawal_id", w.ID).Warn("withdrawal: первая попытка выплаты не удалась")
	}
	fresh, err := s.uow.Store().Withdrawals().FindByID(ctx, w.ID)
	if err != nil {
		return w, false, nil
	}
	return fresh, false, nil
}

func (s *WithdrawalService) validate(in WithdrawalInput) (valueobject.Money, error) {
	if !in.Amount.IsPositive() {
		return valueobject.Money{}, apperror.New(apperror.ErrCodeValidation, "сумма вывода должна быть положительной")
	}
	if !in.Amount.Equal(valueobject.RoundStorage(in.Amount)) {
		return valueobject.Money{}, apperror.New(apperror.ErrCodeValidation, "сумма вывода указывается с точностью до копейки")
	}
	if in.Amount.LessThan(s.policy.MinAmount) {
		return valueobject.Money{}, apperror.Newf(apperror.ErrCodeValidation, "минимальная сумма вывода %s %s",
			s.policy.MinAmount.StringFixedBank(2), s.policy.Currency)
	}
	var dest map[string]any
	if len(in.Destination) == 0 || json.Unmarshal(in.Destination, &dest) != nil || len(dest) == 0 {
		return valueobject.Money{}, apperror.New(apperror.ErrCodeValidation, "реквизиты получателя обязательны")
	}
	return valueobject.NewMoney(in.Amount, s.policy.Currency)
}

// Attempt захватывает заявку и делает одну попытку выплаты.
func (s *WithdrawalService) Attempt(ctx context.Context, id uuid.UUID) error {
	token := uuid.NewString()
	ok, err := s.uow.Store().Withdrawals().Claim(ctx, id, repository.Claim{Token: token, Now: s.now(), Lease: s.policy.Lease})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.process(ctx, id, token)
}

// ProcessDue повторяет выплаты, срок которых наступил. Ошибка по отдельной
// заявке логируется и учитывается в failed; err только при сбое захвата.
func (s *WithdrawalService) ProcessDue(ctx context.Context, batch int) (processed, failed int, err error) {
	token := uuid.NewString()
	ids, err := s.uow.Store().Withdrawals().ClaimDue(ctx, repository.Claim{Token: token, Now: s.now(), Lease: s.policy.Lease, Limit: batch})
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		if err := s.process(ctx, id, token); err != nil {
			failed++
			logger.Log.WithError(err).WithField("withdrawal_id", id).Warn("withdrawal: повтор выплаты не удался")
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (s *WithdrawalService) process(ctx context.Context, id uuid.UUID, token string) error {
	defer func() {
		if err := s.uow.Store().Withdrawals().ReleaseClaim(context.WithoutCancel(ctx), id, token); err != nil {
			logger.Log.WithError(err).WithField("withdrawal_id", id).Warn("withdrawal: не удалось снять захват")
		}
	}()

	w, err := s.uow.Store().Withdrawals().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if w.State != entity.WithdrawalStatePending {
		return nil
	}

	res, payErr := s.gw.Payout(ctx, gateway.PayoutRequest{
		WithdrawalID:   w.ID,
		UserID:         w.UserID,
		Amount:         w.Amount,
		Destination:    w.Destination,
		IdempotencyKey: w.ID.String(),
	})

	return s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		w, err := tx.Withdrawals().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.State != entity.WithdrawalStatePending {
			return nil
		}
		now := s.now()
		w.Attempts++
		fields := logrus.Fields{"withdrawal_id": w.ID, "attempt": w.Attempts}

		if payErr != nil {
			if gateway.IsRetryable(payErr) && w.Attempts < s.policy.MaxAttempts {
				next := now.Add(s.backoff(w.Attempts))
				w.ScheduleRetry(payErr.Error(), next, now)
				logger.Log.WithFields(fields).WithField("next_attempt_at", next).Warn("withdrawal: временный отказ шлюза, повтор")
				return tx.Withdrawals().Update(ctx, w)
			}
			logger.Log.WithFields(fields).WithError(payErr).Warn("withdrawal: выплата не удалась")
			return failWithdrawal(ctx, tx, s.ledger, w, payErr.Error(), now, ob)
		}

		if err := w.MarkProcessing(res.Reference, now); err != nil {
			return err
		}
		switch res.Status {
		case gateway.StatusSettled:
			return settleWithdrawal(ctx, tx, s.ledger, w, res.Reference, now, ob)
		case gateway.StatusFailed:
			return failWithdrawal(ctx, tx, s.ledger, w, "шлюз отклонил выплату", now, ob)
		}
		logger.Log.WithFields(fields).WithField("reference", res.Reference).Info("withdrawal: выплата принята шлюзом")
		return tx.Withdrawals().Update(ctx, w)
	})
}

// backoff экспоненциальная задержка: base, 2·base, 4·base...
func (s *WithdrawalService) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return s.policy.RetryBase * time.Duration(1<<(attempt-1))
}

// Cancel отзывает заявку, пока выплата не передана шлюзу.
func (s *WithdrawalService) Cancel(ctx context.Context, userID, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	var out *entity.WithdrawalRequest
	err := s.run(ctx, func(ctx context.Context, tx repository.Store, ob *outbox) error {
		w, err := tx.Withdrawals().FindByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperror.ErrWithdrawalNotFound
			}
			return err
		}
		if w.UserID != userID {
			return apperror.ErrWithdrawalNotFound
		}
		now := s.now()
		busy, err := tx.Withdrawals().HasActiveClaim(ctx, id, now)
		if err != nil {
			return err
		}
		if busy {
			return apperror.New(apperror.ErrCodeConflict, "выплата по заявке уже выполняется")
		}
		if err := w.Cancel(now); err != nil {
			return err
		}
		if _, _, err := s.ledger.Append(ctx, tx, ledger.WithdrawalFailed(w)); err != nil {
			return err
		}
		if err := tx.Withdrawals().Update(ctx, w); err != nil {
			return err
		}
		ob.add(withdrawalEvent(event.WithdrawalCancelled, w, now))
		out = w
		return nil
	})
	return out, err
}

func (s *WithdrawalService) Get(ctx context.Context, userID, id uuid.UUID) (*entity.WithdrawalRequest, error) {
	w, err := s.uow.Store().Withdrawals().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.ErrWithdrawalNotFound
		}
		return nil, err
	}
	if w.UserID != userID {
		return nil, apperror.ErrWithdrawalNotFound
	}
	return w, nil
}

func (s *WithdrawalService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.uow.Store().Withdrawals().ListByUser(ctx, userID, limit, offset)
}
