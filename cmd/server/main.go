package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/config"
	httpHandlers "github.com/ignatzorin/freelance-escrow/internal/http/handlers"
	"github.com/ignatzorin/freelance-escrow/internal/http/middleware"
	httpRouter "github.com/ignatzorin/freelance-escrow/internal/http/router"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	app.InitLogger(cfg)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: не удалось запустить приложение")
	}
	defer a.Close()

	limits, err := middleware.NewLimiterStore(a.Redis)
	if err != nil {
		logger.Log.WithError(err).Fatal("main: хранилище лимитов")
	}

	// HTTP хэндлеры.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:        httpHandlers.NewHealthHandler(a.DB, a.Redis),
		Orders:        httpHandlers.NewOrderHandler(a.Orders),
		Disputes:      httpHandlers.NewDisputeHandler(a.Disputes),
		Withdrawals:   httpHandlers.NewWithdrawalHandler(a.Withdrawals),
		Wallets:       httpHandlers.NewWalletHandler(a.Wallets),
		Webhooks:      httpHandlers.NewWebhookHandler(a.Payments, cfg.WebhookSecret),
		Notifications: httpHandlers.NewNotificationHandler(a.Notifications),
		WS:            httpHandlers.NewWSHandler(a.Hub, a.Tokens, cfg.AllowedOrigins),
	}, a.Tokens, limits)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Hub.Run()
		return nil
	})
	g.Go(func() error {
		logger.Log.WithField("port", cfg.HTTPPort).Info("main: HTTP сервер запущен")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Завершаем сервер при получении сигнала или падении соседней горутины.
	g.Go(func() error {
		<-gctx.Done()
		stop() // останавливает хаб
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.WorkersEnabled {
		g.Go(func() error {
			return a.Scheduler().Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
	}
	logger.Log.Info("main: сервер остановлен")
}
