package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, refresh RefreshFunc) *FinanceScheduler {
	t.Helper()
	s, err := NewFinanceScheduler("0 * * * *", refresh, time.Second)
	if err != nil {
		t.Fatalf("NewFinanceScheduler failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestNewFinanceSchedulerRejectsBadCron(t *testing.T) {
	if _, err := NewFinanceScheduler("every hour", nil, 0); err == nil {
		t.Error("expected error for invalid cron expression")
	}
	s, err := NewFinanceScheduler("", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.GetStatus().Schedule != "0 * * * *" {
		t.Errorf("expected default schedule, got %s", s.GetStatus().Schedule)
	}
	if _, err := NewFinanceScheduler("*/30 * * * * *", nil, 0); err != nil {
		t.Errorf("six-field expressions must be accepted: %v", err)
	}
}

func TestInitialState(t *testing.T) {
	s := newTestScheduler(t, func(context.Context) error { return nil })
	state := s.GetStatus()
	if state.Active || state.NextRun != nil || state.LastUpdateTime != nil || state.Running {
		t.Errorf("unexpected initial state %+v", state)
	}
}

func TestStopWhenStopped(t *testing.T) {
	s := newTestScheduler(t, func(context.Context) error { return nil })
	if s.Stop() {
		t.Error("Stop on a stopped scheduler must return false")
	}
	if s.GetStatus().Active {
		t.Error("state must stay stopped")
	}
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, func(context.Context) error { return nil })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	state := s.GetStatus()
	if !state.Active || state.NextRun == nil {
		t.Fatalf("expected active state with next run, got %+v", state)
	}
	if !state.NextRun.After(time.Now()) || state.NextRun.Minute() != 0 {
		t.Errorf("unexpected next run %v", state.NextRun)
	}
	if !s.Stop() {
		t.Error("Stop on a running scheduler must return true")
	}
	if s.GetStatus().Active || s.GetStatus().NextRun != nil {
		t.Error("expected inactive state after stop")
	}
}

func TestRestartKeepsSingleJob(t *testing.T) {
	s := newTestScheduler(t, func(context.Context) error { return nil })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	first := s.cron
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if got := s.jobCount(); got != 1 {
		t.Errorf("expected exactly one job after re-arm, got %d", got)
	}
	if first == s.cron {
		t.Error("re-arm must install a fresh gocron scheduler")
	}
	if first.IsRunning() {
		t.Error("previous gocron scheduler must be stopped")
	}
}

func TestTriggerNowRecordsSuccess(t *testing.T) {
	calls := 0
	s := newTestScheduler(t, func(context.Context) error {
		calls++
		return nil
	})

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	state := s.GetStatus()
	if calls != 1 || state.LastUpdateTime == nil || state.LastError != "" {
		t.Errorf("unexpected state after success: calls=%d %+v", calls, state)
	}
	if state.Active {
		t.Error("TriggerNow must not arm the cron job")
	}
}

func TestTriggerNowFailureKeepsLastUpdate(t *testing.T) {
	fail := false
	s := newTestScheduler(t, func(context.Context) error {
		if fail {
			return errors.New("upstream down")
		}
		return nil
	})

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.GetStatus().LastUpdateTime

	fail = true
	if err := s.TriggerNow(context.Background()); err == nil {
		t.Fatal("expected failure to be returned")
	}
	state := s.GetStatus()
	if state.LastUpdateTime == nil || !state.LastUpdateTime.Equal(*before) {
		t.Errorf("failed run must leave lastUpdateTime unchanged: %v vs %v", state.LastUpdateTime, before)
	}
	if state.LastError != "upstream down" {
		t.Errorf("expected lastError to be recorded, got %q", state.LastError)
	}
}

func TestTriggerNowRecoversPanic(t *testing.T) {
	s := newTestScheduler(t, func(context.Context) error { panic("boom") })
	if err := s.TriggerNow(context.Background()); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if s.GetStatus().Running {
		t.Error("in-flight flag must be cleared after a panic")
	}
}

func TestTriggerDuringRefreshIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := newTestScheduler(t, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()
	<-started

	if !s.GetStatus().Running {
		t.Error("expected running flag while refresh is in flight")
	}
	if err := s.TriggerNow(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("expected ErrRefreshInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if s.GetStatus().Running {
		t.Error("running flag must clear after the run")
	}
}

func TestRefreshTimeout(t *testing.T) {
	s, err := NewFinanceScheduler("0 * * * *", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.TriggerNow(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
