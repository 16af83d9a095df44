package logger

import (
	"github.com/sirupsen/logrus"
)

// Log глобальный логгер. До вызова Init пишет в текстовом формате с уровнем info.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	// Используем JSON формат для production, text для development
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	if Log != nil {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// Alert помечает запись как сигнал о нарушении целостности денег.
func Alert(kind string) *logrus.Entry {
	return Log.WithField("alert", kind)
}

const AlertLedgerIntegrity = "ledger_integrity"
