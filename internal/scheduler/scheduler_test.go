package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobOnInterval(t *testing.T) {
	s := New()
	var count int64
	s.Add("tick", 20*time.Millisecond, false, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(110 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt64(&count); n < 3 {
		t.Errorf("job ran %d times in ~100ms at 20ms interval, want at least 3", n)
	}
}

func TestSchedulerRunAtStart(t *testing.T) {
	s := New()
	var count int64
	s.Add("immediate", time.Hour, true, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt64(&count); n != 1 {
		t.Errorf("job ran %d times, want exactly the startup run", n)
	}
}

func TestSchedulerContainsPanics(t *testing.T) {
	s := New()
	var after int64
	s.Add("bomb", 15*time.Millisecond, false, func(ctx context.Context) error {
		panic("boom")
	})
	s.Add("survivor", 15*time.Millisecond, false, func(ctx context.Context) error {
		atomic.AddInt64(&after, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt64(&after); n == 0 {
		t.Error("a panicking job must not stop the others")
	}
}

func TestSchedulerLogsErrorsAndContinues(t *testing.T) {
	s := New()
	var count int64
	s.Add("flaky", 15*time.Millisecond, false, func(ctx context.Context) error {
		atomic.AddInt64(&count, 1)
		return errors.New("provider down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	cancel()
	s.Wait()

	if n := atomic.LoadInt64(&count); n < 2 {
		t.Errorf("job ran %d times, errors must not unschedule it", n)
	}
}
