// Package app собирает зависимости сервиса: базу, шлюз, журнал, сервисы и шину событий.
// Используется обоими бинарниками.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/currency"
	"github.com/ignatzorin/freelance-escrow/internal/db"
	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/gateway/restgateway"
	"github.com/ignatzorin/freelance-escrow/internal/gateway/sandbox"
	"github.com/ignatzorin/freelance-escrow/internal/infrastructure/persistence"
	"github.com/ignatzorin/freelance-escrow/internal/job"
	"github.com/ignatzorin/freelance-escrow/internal/kafka"
	"github.com/ignatzorin/freelance-escrow/internal/ledger"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/notify"
	"github.com/ignatzorin/freelance-escrow/internal/redisx"
	"github.com/ignatzorin/freelance-escrow/internal/service"
	"github.com/ignatzorin/freelance-escrow/internal/ws"
)

const reconcileBatch = 500

// App готовый граф зависимостей.
type App struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Hub    *ws.Hub
	Bus    *notify.Bus
	Tokens *service.TokenManager

	Orders        *service.OrderService
	Payments      *service.PaymentService
	Withdrawals   *service.WithdrawalService
	Disputes      *service.DisputeService
	Wallets       *service.WalletService
	Notifications *service.NotificationService
	Sweeps        *service.SweepService

	kafka *kafka.Publisher
}

// InitLogger уровень debug и текстовый формат в development.
func InitLogger(cfg *config.Config) {
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
		return
	}
	logger.Init("info")
}

// New подключается к базе, применяет миграции и собирает сервисы.
// Хаб нужно запустить вызывающему (go a.Hub.Run()).
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: база: %w", err)
	}
	a.DB = conn
	if err := db.RunMigrations(ctx, conn, cfg.MigrationsPath); err != nil {
		a.Close()
		return nil, fmt.Errorf("app: миграции: %w", err)
	}

	if cfg.RedisURL != "" {
		rdb, err := redisx.New(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.Redis = rdb
	}

	settlement, err := valueobject.NewCurrency(cfg.SettlementCurrency)
	if err != nil {
		a.Close()
		return nil, err
	}
	feeRate, err := valueobject.NewFeeRate(cfg.PlatformFeeRate)
	if err != nil {
		a.Close()
		return nil, err
	}
	converter, err := currency.NewStaticConverter(settlement, cfg.CurrencyRates)
	if err != nil {
		a.Close()
		return nil, err
	}

	now := time.Now
	uow := persistence.NewStore(conn, cfg.TxMaxAttempts)
	gw := newGateway(cfg)
	l := ledger.New(now)

	a.Bus = notify.NewBus(notify.BusOptions{})
	a.Tokens = service.NewTokenManager(cfg.JWTSecret)
	checker := ledger.NewChecker(uow, a.Bus, settlement, reconcileBatch, now)

	a.Payments = service.NewPaymentService(uow, l, gw, a.Bus, settlement, now)
	a.Orders = service.NewOrderService(service.OrderDeps{
		UoW:       uow,
		Ledger:    l,
		Catalog:   persistence.NewCatalogRepository(conn),
		Converter: converter,
		Gateway:   gw,
		Events:    a.Bus,
		Policy: service.OrderPolicy{
			Currency:          settlement,
			FeeRate:           feeRate,
			AutoAcceptAfter:   cfg.AutoAcceptAfter,
			FreeCancelWindow:  cfg.FreeCancelWindow,
			AllowLateDelivery: cfg.AllowLateDelivery,
			ReturnURL:         cfg.GatewayReturnURL,
		},
		Now: now,
	}, a.Payments)
	a.Withdrawals = service.NewWithdrawalService(uow, l, gw, a.Bus, service.WithdrawalPolicy{
		Currency:    settlement,
		MinAmount:   cfg.WithdrawalMinAmount,
		RateLimit:   cfg.WithdrawalRateLimit,
		RateWindow:  cfg.WithdrawalRateWindow,
		RetryBase:   cfg.WithdrawalRetryBase,
		MaxAttempts: cfg.WithdrawalMaxAttempts,
		Lease:       cfg.SweepLease,
	}, now)
	a.Disputes = service.NewDisputeService(uow, l, a.Bus, settlement, now)
	a.Wallets = service.NewWalletService(uow, l, checker, a.Bus, settlement, now)
	a.Notifications = service.NewNotificationService(uow, now)
	a.Sweeps = service.NewSweepService(uow, a.Orders, a.Payments, a.Withdrawals, a.Wallets, service.SweepPolicy{
		Batch:          cfg.SweepBatch,
		Lease:          cfg.SweepLease,
		PaymentTimeout: cfg.PaymentTimeout,
		PayoutGrace:    cfg.PayoutVerifyAfter,
	}, now)

	a.Hub = ws.NewHub(ctx)
	a.Hub.SetInbox(a.Notifications)

	a.Bus.Subscribe(notify.NewInbox(a.Hub))
	a.Bus.Subscribe(notify.NewEmail(notify.LogEmailSender{}))
	a.Bus.Subscribe(notify.NewSMS(notify.LogSMSSender{}))
	a.Bus.Subscribe(notify.NewReferral(persistence.NewReferralRepository(conn), a.Wallets, cfg.ReferralBonusRate))
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = kafka.NewPublisher(kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		a.Bus.Subscribe(a.kafka)
	}

	logger.Log.WithFields(logrus.Fields{
		"gateway":  cfg.GatewayDriver,
		"currency": settlement,
		"redis":    a.Redis != nil,
		"kafka":    a.kafka != nil,
	}).Info("app: зависимости собраны")
	return a, nil
}

// Jobs фоновые задачи планировщика.
func (a *App) Jobs() []job.Job {
	cfg := a.Config
	return []job.Job{
		{Name: "expire-payments", Interval: cfg.SweepInterval, Run: discard(a.Sweeps.ExpireStalePayments)},
		{Name: "auto-accept", Interval: cfg.SweepInterval, Run: discard(a.Sweeps.AutoAcceptDue)},
		{Name: "withdrawals", Interval: cfg.SweepInterval, Run: discard(a.Sweeps.RetryWithdrawals)},
		{Name: "verify-payouts", Interval: cfg.SweepInterval, Run: discard(a.Sweeps.VerifyPayouts)},
		{Name: "reconcile", Interval: cfg.ReconcileInterval, Run: discard(a.Sweeps.Reconcile)},
	}
}

// Scheduler планировщик с арендой в Redis. Без Redis задачи
// выполняются каждым экземпляром, захват записей всё равно исключает двойную обработку.
func (a *App) Scheduler() *job.Scheduler {
	var locker job.Locker
	if a.Redis != nil {
		locker = redisx.NewLease(a.Redis)
	}
	return job.NewScheduler(locker, a.Config.SweepLease, a.Jobs()...)
}

// Close дожидается доставки событий и закрывает соединения.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Wait()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			logger.Log.WithError(err).Warn("app: ошибка закрытия kafka")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Log.WithError(err).Warn("app: ошибка закрытия redis")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Log.WithError(err).Warn("app: ошибка закрытия базы")
		}
	}
}

func newGateway(cfg *config.Config) gateway.Gateway {
	if cfg.GatewayDriver == "rest" {
		return restgateway.New(restgateway.Config{
			BaseURL: cfg.GatewayBaseURL,
			APIKey:  cfg.GatewayAPIKey,
			Timeout: cfg.GatewayTimeout,
		})
	}
	return sandbox.New(cfg.GatewayReturnURL, cfg.Env == "development")
}

func discard(fn func(context.Context) (service.SweepResult, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	}
}
