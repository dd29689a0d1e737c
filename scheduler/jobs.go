package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"finance_backend/metrics"
)

// tick is the cron job. Failures are logged and swallowed.
func (s *FinanceScheduler) tick() {
	err := s.run(context.Background(), "cron")
	if errors.Is(err, ErrRefreshInProgress) {
		s.log.Warn("Skipping scheduled refresh: previous run still in progress")
	}
}

func (s *FinanceScheduler) run(ctx context.Context, trigger string) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.RefreshRuns.WithLabelValues(trigger, "skipped").Inc()
		return ErrRefreshInProgress
	}
	defer s.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Infof("Finance data refresh started (%s)", trigger)
	start := time.Now()
	err := s.safeRefresh(ctx)

	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		now := time.Now()
		s.lastUpdate = &now
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		metrics.RefreshRuns.WithLabelValues(trigger, "error").Inc()
		s.log.Errorf("Finance data refresh failed after %v: %v", time.Since(start), err)
		return err
	}
	metrics.RefreshRuns.WithLabelValues(trigger, "success").Inc()
	s.log.Infof("Finance data refresh finished in %v", time.Since(start))
	return nil
}

func (s *FinanceScheduler) safeRefresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Finance data refresh panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	if s.refresh == nil {
		return errors.New("no refresh job configured")
	}
	return s.refresh(ctx)
}
