package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medicare/medicare/internal/platform/lease"
)

func TestAdd_Validation(t *testing.T) {
	s := New(zerolog.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add(Job{Name: "a", Interval: 0, Run: noop}); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Add(Job{Name: "", Interval: time.Second, Run: noop}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.Add(Job{Name: "a", Interval: time.Second, Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Job{Name: "a", Interval: time.Second, Run: noop}); err == nil {
		t.Error("expected duplicate error")
	}
	s.Add(Job{Name: "b", Interval: time.Second, Run: noop})
	if got := s.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected names %v", got)
	}
}

func TestRunOnce_UnknownJob(t *testing.T) {
	_, err := New(zerolog.Nop()).RunOnce(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestRunOnce_SkipsWhileRunning(t *testing.T) {
	s := New(zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	s.Add(Job{Name: "slow", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})

	done := make(chan bool)
	go func() {
		ran, _ := s.RunOnce(context.Background(), "slow")
		done <- ran
	}()
	<-started

	ran, err := s.RunOnce(context.Background(), "slow")
	if err != nil || ran {
		t.Errorf("overlapping run should be skipped, ran=%v err=%v", ran, err)
	}
	close(release)
	if !<-done {
		t.Error("first run should report ran")
	}
}

func TestRunOnce_LeaseHeldElsewhere(t *testing.T) {
	locker := lease.NewLocalLocker()
	s := New(zerolog.Nop(), WithLocker(locker))
	var calls int32
	s.Add(Job{Name: "dispatch", Interval: time.Minute, Run: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}})

	other, err := locker.Acquire(context.Background(), "dispatch", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ran, _ := s.RunOnce(context.Background(), "dispatch"); ran {
		t.Error("job ran while another worker held the lease")
	}
	other.Release(context.Background())
	if ran, _ := s.RunOnce(context.Background(), "dispatch"); !ran {
		t.Error("job should run once the lease is free")
	}
	if ran, _ := s.RunOnce(context.Background(), "dispatch"); !ran {
		t.Error("lease should be released after each run")
	}
	if calls != 2 {
		t.Errorf("expected 2 runs, got %d", calls)
	}
}

type brokenLocker struct{}

func (brokenLocker) Acquire(context.Context, string, time.Duration) (lease.Lease, error) {
	return nil, errors.New("redis: connection refused")
}

func TestRunOnce_LeaseUnavailableStillRuns(t *testing.T) {
	s := New(zerolog.Nop(), WithLocker(brokenLocker{}))
	s.Add(Job{Name: "j", Interval: time.Minute, Run: func(context.Context) error { return nil }})
	if ran, err := s.RunOnce(context.Background(), "j"); !ran || err != nil {
		t.Errorf("expected unguarded run, ran=%v err=%v", ran, err)
	}
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	s := New(zerolog.Nop())
	s.Add(Job{Name: "boom", Interval: time.Minute, Run: func(context.Context) error { panic("nil map") }})

	ran, err := s.RunOnce(context.Background(), "boom")
	if !ran || err == nil || !strings.Contains(err.Error(), "panic: nil map") {
		t.Fatalf("expected recovered panic, ran=%v err=%v", ran, err)
	}
	if ran, _ := s.RunOnce(context.Background(), "boom"); !ran {
		t.Error("running flag must be cleared after a panic")
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	s := New(zerolog.Nop())
	var fast, failing int32
	s.Add(Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		atomic.AddInt32(&fast, 1)
		return nil
	}})
	s.Add(Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		atomic.AddInt32(&failing, 1)
		return errors.New("db down")
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	if atomic.LoadInt32(&fast) < 2 {
		t.Errorf("expected repeated runs, got %d", fast)
	}
	if atomic.LoadInt32(&failing) < 2 {
		t.Errorf("a failing job must keep its schedule, got %d", failing)
	}
}
