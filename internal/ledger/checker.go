package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/domain/repository"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Drift расхождение кэша кошелька с суммой его проводок.
type Drift struct {
	AccountID       uuid.UUID       `json:"account_id"`
	CachedAvailable decimal.Decimal `json:"cached_available"`
	CachedEscrow    decimal.Decimal `json:"cached_escrow"`
	LedgerAvailable decimal.Decimal `json:"ledger_available"`
	LedgerEscrow    decimal.Decimal `json:"ledger_escrow"`
}

type Report struct {
	Checked    int                                      `json:"checked"`
	Drifts     []Drift                                  `json:"drifts"`
	Unbalanced map[valueobject.Currency]decimal.Decimal `json:"unbalanced,omitempty"`
	StartedAt  time.Time                                `json:"started_at"`
	FinishedAt time.Time                                `json:"finished_at"`
}

func (r Report) Healthy() bool {
	return len(r.Drifts) == 0 && len(r.Unbalanced) == 0
}

// Checker сверяет кэш кошельков с журналом. Расхождение не исправляется:
// кошелёк замораживается до ручной сверки.
type Checker struct {
	uow       repository.UnitOfWork
	events    event.Publisher
	currency  valueobject.Currency
	batchSize int
	now       func() time.Time
}

func NewChecker(uow repository.UnitOfWork, events event.Publisher, currency valueobject.Currency, batchSize int, now func() time.Time) *Checker {
	if batchSize <= 0 {
		batchSize = 200
	}
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = event.Discard{}
	}
	return &Checker{uow: uow, events: events, currency: currency, batchSize: batchSize, now: now}
}

func (c *Checker) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: c.now()}

	sums, err := c.uow.Store().Ledger().SumByCurrency(ctx)
	if err != nil {
		return report, fmt.Errorf("checker: sum by currency: %w", err)
	}
	for cur, sum := range sums {
		if sum.IsZero() {
			continue
		}
		if report.Unbalanced == nil {
			report.Unbalanced = make(map[valueobject.Currency]decimal.Decimal)
		}
		report.Unbalanced[cur] = sum
		logger.Alert(logger.AlertLedgerIntegrity).WithFields(logrus.Fields{
			"currency": cur,
			"sum":      sum.String(),
		}).Error("checker: сумма журнала по валюте не равна нулю")
	}

	after := uuid.Nil
	for {
		ids, err := c.uow.Store().Wallets().ListIDs(ctx, after, c.batchSize)
		if err != nil {
			return report, fmt.Errorf("checker: list wallets: %w", err)
		}
		for _, id := range ids {
			drift, frozen, err := c.checkWallet(ctx, id)
			if err != nil {
				return report, err
			}
			report.Checked++
			if drift == nil {
				continue
			}
			report.Drifts = append(report.Drifts, *drift)
			if frozen {
				ev := event.New(event.LedgerDriftDetected, c.now())
				ev.UserID = id
				ev.Reason = "расхождение кэша кошелька с журналом"
				c.events.Publish(ctx, ev)
			}
		}
		if len(ids) < c.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	report.FinishedAt = c.now()
	logger.Log.WithFields(logrus.Fields{
		"checked": report.Checked,
		"drifts":  len(report.Drifts),
	}).Info("checker: сверка завершена")
	return report, nil
}

func (c *Checker) checkWallet(ctx context.Context, id uuid.UUID) (*Drift, bool, error) {
	var (
		drift  *Drift
		frozen bool
	)
	err := c.uow.Do(ctx, func(ctx context.Context, tx repository.Store) error {
		drift, frozen = nil, false
		w, err := tx.Wallets().LockOrCreate(ctx, id, c.currency)
		if err != nil {
			return err
		}
		sums, err := tx.Ledger().SumByAccount(ctx, id)
		if err != nil {
			return err
		}
		if w.Available.Equal(sums.Available) && w.Escrow.Equal(sums.Escrow) {
			return nil
		}
		drift = &Drift{
			AccountID:       id,
			CachedAvailable: w.Available,
			CachedEscrow:    w.Escrow,
			LedgerAvailable: sums.Available,
			LedgerEscrow:    sums.Escrow,
		}
		logger.Alert(logger.AlertLedgerIntegrity).WithFields(logrus.Fields{
			"account":          id,
			"cached_available": w.Available.String(),
			"ledger_available": sums.Available.String(),
			"cached_escrow":    w.Escrow.String(),
			"ledger_escrow":    sums.Escrow.String(),
		}).Error("checker: кошелёк расходится с журналом")
		if w.Frozen {
			return nil
		}
		w.Freeze("расхождение с журналом", c.now())
		frozen = true
		return tx.Wallets().Save(ctx, w)
	})
	if err != nil {
		return nil, false, fmt.Errorf("checker: wallet %s: %w", id, err)
	}
	return drift, frozen, nil
}

// Unfreeze снимает заморозку после ручной сверки; кэш должен совпадать с журналом.
func (c *Checker) Unfreeze(ctx context.Context, accountID uuid.UUID) error {
	return c.uow.Do(ctx, func(ctx context.Context, tx repository.Store) error {
		w, err := tx.Wallets().FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		w, err = tx.Wallets().LockOrCreate(ctx, accountID, w.Currency)
		if err != nil {
			return err
		}
		sums, err := tx.Ledger().SumByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !w.Available.Equal(sums.Available) || !w.Escrow.Equal(sums.Escrow) {
			return apperror.New(apperror.ErrCodeConflict, "кошелёк всё ещё расходится с журналом")
		}
		w.Unfreeze(c.now())
		return tx.Wallets().Save(ctx, w)
	})
}
