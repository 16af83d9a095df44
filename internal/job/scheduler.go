// Package job периодический запуск фоновых проходов внутри сервера.
package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// Locker распределённая блокировка задачи (redisx.Lease). Без неё
// взаимное исключение обеспечивают только захваты строк в базе.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	locker Locker
	lease  time.Duration
	group  *goroutine.Group
}

// NewScheduler locker может быть nil.
func NewScheduler(locker Locker, lease time.Duration, jobs ...Job) *Scheduler {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Scheduler{jobs: jobs, locker: locker, lease: lease, group: goroutine.NewGroup(nil)}
}

// Start запускает каждую задачу по своему тикеру и блокируется до отмены ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, j := range s.jobs {
		s.group.Go(func() { s.loop(ctx, j) })
	}
	<-ctx.Done()
	s.group.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, j); err != nil {
				logger.Log.WithField("job", j.Name).WithError(err).Warn("job: проход завершился с ошибкой")
			}
		}
	}
}

// RunOnce выполняет задачу один раз. ran=false, если блокировку держит другой экземпляр.
func (s *Scheduler) RunOnce(ctx context.Context, j Job) (ran bool, err error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, j.Name, s.lease)
		if err != nil {
			return false, err
		}
		if !ok {
			logger.Log.WithField("job", j.Name).Debug("job: выполняется другим экземпляром")
			return false, nil
		}
		defer unlock()
	}

	started := time.Now()
	err = j.Run(ctx)
	logger.Log.WithFields(logrus.Fields{
		"job":      j.Name,
		"duration": time.Since(started).String(),
	}).Debug("job: проход выполнен")
	return true, err
}
