package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// SweepPolicy параметры фоновых проходов.
type SweepPolicy struct {
	Batch          int
	Lease          time.Duration
	PaymentTimeout time.Duration
	// PayoutGrace сколько выплата может быть в processing без вебхука,
	// прежде чем статус запросят у шлюза.
	PayoutGrace time.Duration
}

// SweepService фоновые проходы: автоприёмка, истёкшие оплаты, повторы и сверка выплат.
// Каждый заказ захватывается токеном с арендой, поэтому несколько воркеров
// не обрабатывают одну запись одновременно.
type SweepService struct {
	uow         repository.UnitOfWork
	orders      *OrderService
	payments    *PaymentService
	withdrawals *WithdrawalService
	wallets     *WalletService
	policy      SweepPolicy
	now         func() time.Time
}

func NewSweepService(uow repository.UnitOfWork, orders *OrderService, payments *PaymentService, withdrawals *WithdrawalService, wallets *WalletService, policy SweepPolicy, now func() time.Time) *SweepService {
	if policy.Batch <= 0 {
		policy.Batch = 100
	}
	if policy.Lease <= 0 {
		policy.Lease = 2 * time.Minute
	}
	if policy.PayoutGrace <= 0 {
		policy.PayoutGrace = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &SweepService{
		uow:         uow,
		orders:      orders,
		payments:    payments,
		withdrawals: withdrawals,
		wallets:     wallets,
		policy:      policy,
		now:         now,
	}
}

// SweepResult итог одного прохода.
type SweepResult struct {
	Processed int
	Failed    int
}

// AutoAcceptDue принимает сданные заказы с истёкшим сроком приёмки.
// Захват снимается только после успеха: заказ с ошибкой не берётся повторно
// до истечения аренды, и проход завершается.
func (s *SweepService) AutoAcceptDue(ctx context.Context) (SweepResult, error) {
	return s.drain(ctx, "auto_accept",
		func(c repository.Claim) ([]uuid.UUID, error) {
			return s.uow.Store().Orders().ClaimAutoAcceptDue(ctx, c)
		},
		func(id uuid.UUID) error {
			_, err := s.orders.autoAccept(ctx, id)
			return err
		},
		s.releaseOrder)
}

// ExpireStalePayments отменяет заказы, оплата которых не пришла за PaymentTimeout.
func (s *SweepService) ExpireStalePayments(ctx context.Context) (SweepResult, error) {
	return s.drain(ctx, "expire_payments",
		func(c repository.Claim) ([]uuid.UUID, error) {
			return s.uow.Store().Orders().ClaimStalePending(ctx, c.Now.Add(-s.policy.PaymentTimeout), c)
		},
		func(id uuid.UUID) error {
			_, err := s.payments.expireStale(ctx, id)
			return err
		},
		s.releaseOrder)
}

// RetryWithdrawals повторяет выплаты с наступившим сроком. Отказ по
// отдельной заявке не делает проход ошибочным.
func (s *SweepService) RetryWithdrawals(ctx context.Context) (SweepResult, error) {
	processed, failed, err := s.withdrawals.ProcessDue(ctx, s.policy.Batch)
	return SweepResult{Processed: processed, Failed: failed}, err
}

// VerifyPayouts запрашивает у шлюза статус выплат, которые дольше PayoutGrace
// висят в processing: вебхук мог прийти раньше, чем reference был сохранён.
func (s *SweepService) VerifyPayouts(ctx context.Context) (SweepResult, error) {
	return s.drain(ctx, "verify_payouts",
		func(c repository.Claim) ([]uuid.UUID, error) {
			return s.uow.Store().Withdrawals().ClaimStaleProcessing(ctx, c.Now.Add(-s.policy.PayoutGrace), c)
		},
		func(id uuid.UUID) error {
			_, err := s.payments.VerifyPayout(ctx, id)
			return err
		},
		s.uow.Store().Withdrawals().ReleaseClaim)
}

// Reconcile сверка кошельков с журналом.
func (s *SweepService) Reconcile(ctx context.Context) (SweepResult, error) {
	report, err := s.wallets.Reconcile(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	return SweepResult{Processed: report.Checked, Failed: len(report.Drifts)}, nil
}

// RunAll один проход всех задач, как делает cmd/sweeper.
func (s *SweepService) RunAll(ctx context.Context) error {
	var errs []error
	for _, step := range []func(context.Context) (SweepResult, error){
		s.ExpireStalePayments,
		s.AutoAcceptDue,
		s.RetryWithdrawals,
		s.VerifyPayouts,
		s.Reconcile,
	} {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := step(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SweepService) releaseOrder(ctx context.Context, id uuid.UUID, token string) error {
	return s.uow.Store().Orders().ReleaseClaim(ctx, id, token)
}

// drain захватывает и обрабатывает записи пачками, пока захватывать нечего.
// Захват снимается только после успеха.
func (s *SweepService) drain(ctx context.Context, kind string,
	claim func(repository.Claim) ([]uuid.UUID, error),
	handle func(uuid.UUID) error,
	release func(ctx context.Context, id uuid.UUID, token string) error,
) (SweepResult, error) {
	var res SweepResult
	token := uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids, err := claim(repository.Claim{Token: token, Now: s.now(), Lease: s.policy.Lease, Limit: s.policy.Batch})
		if err != nil {
			return res, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := handle(id); err != nil {
				res.Failed++
				logger.Log.WithFields(logrus.Fields{"sweep": kind, "id": id}).WithError(err).Warn("sweep: запись не обработана")
				continue
			}
			res.Processed++
			if err := release(ctx, id, token); err != nil {
				logger.Log.WithFields(logrus.Fields{"sweep": kind, "id": id}).WithError(err).Warn("sweep: не удалось снять захват")
			}
		}
	}
	if res.Processed > 0 || res.Failed > 0 {
		logger.Log.WithFields(logrus.Fields{
			"sweep":     kind,
			"processed": res.Processed,
			"failed":    res.Failed,
		}).Info("sweep: проход завершён")
	}
	return res, nil
}
