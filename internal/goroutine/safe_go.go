package goroutine

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// Logger интерфейс для логирования ошибок
type Logger interface {
	Errorf(format string, args ...interface{})
}

// RecoveryHandler обрабатывает panic в горутинах
type RecoveryHandler struct {
	logger Logger
}

// NewRecoveryHandler создает новый обработчик
func NewRecoveryHandler(logger Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: logger}
}

// SafeGo запускает горутину с обработкой panic
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go rh.call(fn)
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go rh.call(func() { fn(ctx) })
}

// Recover выполняет fn в текущей горутине; panic логируется и возвращается как false.
func (rh *RecoveryHandler) Recover(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			rh.logger.Errorf("panic: %v\nstack trace:\n%s", r, debug.Stack())
			ok = false
		}
	}()
	fn()
	return true
}

func (rh *RecoveryHandler) call(fn func()) {
	rh.Recover(fn)
}

// Group набор безопасных горутин, завершение которых можно дождаться.
type Group struct {
	rh *RecoveryHandler
	wg sync.WaitGroup
}

func NewGroup(rh *RecoveryHandler) *Group {
	if rh == nil {
		rh = DefaultRecoveryHandler
	}
	return &Group{rh: rh}
}

func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.rh.Recover(fn)
	}()
}

// Wait ждёт завершения всех запущенных горутин.
func (g *Group) Wait() {
	g.wg.Wait()
}

// DefaultRecoveryHandler глобальный обработчик, пишет в logger.Log.
var DefaultRecoveryHandler = NewRecoveryHandler(logger.Log)

// SafeGo - упрощенная функция для запуска безопасной горутины
func SafeGo(fn func()) {
	DefaultRecoveryHandler.SafeGo(fn)
}

// SafeGoWithContext - упрощенная функция для запуска безопасной горутины с контекстом
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	DefaultRecoveryHandler.SafeGoWithContext(ctx, fn)
}
