package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	held     map[string]bool
	err      error
	unlocked int
	ttl      time.Duration
}

func (l *fakeLocker) TryLock(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	l.ttl = ttl
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.unlocked++
		delete(l.held, name)
	}, true, nil
}

func TestScheduler_RunOnceWithoutLocker(t *testing.T) {
	calls := 0
	j := Job{Name: "auto_accept", Run: func(context.Context) error {
		calls++
		return errors.New("частичный сбой")
	}}

	ran, err := NewScheduler(nil, 0).RunOnce(context.Background(), j)
	assert.True(t, ran)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestScheduler_RunOnceRespectsLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{"reconcile": true}}
	s := NewScheduler(locker, time.Minute)
	calls := 0
	run := func(context.Context) error { calls++; return nil }

	ran, err := s.RunOnce(context.Background(), Job{Name: "reconcile", Run: run})
	require.NoError(t, err)
	assert.False(t, ran, "блокировку держит другой экземпляр")

	ran, err = s.RunOnce(context.Background(), Job{Name: "expire_payments", Run: run})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, locker.unlocked)
	assert.Equal(t, time.Minute, locker.ttl)
	assert.False(t, locker.held["expire_payments"])
}

func TestScheduler_LockErrorSkipsRun(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis недоступен")}
	called := false
	ran, err := NewScheduler(locker, 0).RunOnce(context.Background(), Job{Name: "x", Run: func(context.Context) error {
		called = true
		return nil
	}})
	assert.Error(t, err)
	assert.False(t, ran)
	assert.False(t, called)
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(nil, 0, Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start не завершился после отмены контекста")
	}
}
