// Package notify доставляет доменные события подписчикам после коммита.
// Ошибка подписчика не влияет на переход: каждый подписчик сам повторяет
// доставку и после исчерпания попыток пишет событие в dead-letter лог.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/domain/event"
	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// Subscriber получатель доменных событий.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, ev event.Event) error
}

type BusOptions struct {
	// Attempts число попыток доставки одному подписчику.
	Attempts int
	// Backoff пауза перед второй попыткой, дальше удваивается.
	Backoff time.Duration
	Timeout time.Duration
}

// Bus асинхронная шина событий. Реализует event.Publisher.
type Bus struct {
	mu    sync.RWMutex
	subs  []Subscriber
	opts  BusOptions
	group *goroutine.Group
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewBus(opts BusOptions, subs ...Subscriber) *Bus {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Bus{
		subs:  subs,
		opts:  opts,
		group: goroutine.NewGroup(nil),
		sleep: sleepCtx,
	}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish не блокирует вызывающего. События одного вызова доставляются
// каждому подписчику по порядку.
func (b *Bus) Publish(ctx context.Context, events ...event.Event) {
	if len(events) == 0 {
		return
	}
	// запрос уже завершился, а доставка должна дойти до конца
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.group.Go(func() {
			for _, ev := range events {
				b.deliver(ctx, sub, ev)
			}
		})
	}
}

// Wait ждёт завершения всех начатых доставок. Вызывается при остановке и в тестах.
func (b *Bus) Wait() {
	b.group.Wait()
}

func (b *Bus) deliver(ctx context.Context, sub Subscriber, ev event.Event) {
	fields := logrus.Fields{
		"subscriber": sub.Name(),
		"event_id":   ev.ID,
		"event_type": ev.Type,
	}
	delay := b.opts.Backoff
	var err error
	for attempt := 1; attempt <= b.opts.Attempts; attempt++ {
		err = b.handle(ctx, sub, ev)
		if err == nil {
			return
		}
		logger.Log.WithFields(fields).WithField("attempt", attempt).WithError(err).Warn("notify: подписчик не обработал событие")
		if attempt < b.opts.Attempts {
			if !b.sleep(ctx, delay) {
				break
			}
			delay *= 2
		}
	}
	logger.Log.WithFields(fields).WithFields(logrus.Fields{
		"dead_letter": true,
		"aggregate":   ev.AggregateID(),
		"payload":     ev,
	}).WithError(err).Error("notify: событие отправлено в dead-letter")
}

func (b *Bus) handle(ctx context.Context, sub Subscriber, ev event.Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if !goroutine.DefaultRecoveryHandler.Recover(func() { err = sub.Handle(ctx, ev) }) {
		return errPanic
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
