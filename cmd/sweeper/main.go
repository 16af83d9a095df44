// Команда sweeper выполняет один проход фоновых задач и завершается.
// Коды выхода: 0 успех, 1 ошибка выполнения (захват, база), 2 ошибка конфигурации.
// Отказ по отдельной записи только логируется и на код выхода не влияет.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignatzorin/freelance-escrow/internal/app"
	"github.com/ignatzorin/freelance-escrow/internal/config"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	jobName := flag.String("job", "all", "задача: all, expire-payments, auto-accept, withdrawals, verify-payouts, reconcile")
	flag.Parse()
	if !knownJob(*jobName) {
		fmt.Fprintf(os.Stderr, "sweeper: неизвестная задача %q\n", *jobName)
		return exitConfig
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweeper: конфигурация: %v\n", err)
		return exitConfig
	}
	app.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Error("sweeper: не удалось запустить приложение")
		return exitRuntime
	}
	defer a.Close()

	// хаб нужен, чтобы уведомления проходов попали во входящие
	go a.Hub.Run()

	if *jobName == "all" {
		if err := a.Sweeps.RunAll(ctx); err != nil {
			logger.Log.WithError(err).Error("sweeper: проход завершился с ошибкой")
			return exitRuntime
		}
		logger.Log.Info("sweeper: проход выполнен")
		return exitOK
	}

	for _, j := range a.Jobs() {
		if j.Name != *jobName {
			continue
		}
		if err := j.Run(ctx); err != nil {
			logger.Log.WithError(err).WithField("job", j.Name).Error("sweeper: задача завершилась с ошибкой")
			return exitRuntime
		}
		logger.Log.WithField("job", j.Name).Info("sweeper: задача выполнена")
		return exitOK
	}

	return exitConfig
}

func knownJob(name string) bool {
	switch name {
	case "all", "expire-payments", "auto-accept", "withdrawals", "verify-payouts", "reconcile":
		return true
	}
	return false
}
