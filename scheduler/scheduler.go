// Package scheduler runs the finance data refresh on a cron schedule.
//
// A FinanceScheduler owns at most one gocron scheduler with exactly one job.
// It can be started, stopped and triggered on demand; the refresh body is
// guarded so two runs never overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"finance_backend/config"
	"finance_backend/logger"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultRefreshTimeout = 10 * time.Minute

// ErrRefreshInProgress is returned by TriggerNow while a refresh is running
var ErrRefreshInProgress = errors.New("refresh already in progress")

// RefreshFunc is the job body
type RefreshFunc func(ctx context.Context) error

// SchedulerState is the observable state of the scheduler
type SchedulerState struct {
	Active         bool       `json:"active"`
	Schedule       string     `json:"schedule"`
	NextRun        *time.Time `json:"nextRun"`
	LastUpdateTime *time.Time `json:"lastUpdateTime"`
	Running        bool       `json:"running"`
	LastError      string     `json:"lastError,omitempty"`
}

// FinanceScheduler manages the scheduled refresh job
type FinanceScheduler struct {
	mu         sync.Mutex
	cron       *gocron.Scheduler
	expr       string
	schedule   cron.Schedule
	location   *time.Location
	refresh    RefreshFunc
	timeout    time.Duration
	lastUpdate *time.Time
	lastError  string

	inFlight atomic.Bool
	log      *zap.SugaredLogger
}

// NewFinanceScheduler creates a stopped scheduler
func NewFinanceScheduler(expr string, refresh RefreshFunc, timeout time.Duration) (*FinanceScheduler, error) {
	if expr == "" {
		expr = config.DefaultFinanceCron
	}
	sched, err := config.ParseCron(expr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &FinanceScheduler{
		expr:     expr,
		schedule: sched,
		location: time.Local,
		refresh:  refresh,
		timeout:  timeout,
		log:      logger.Named("scheduler"),
	}, nil
}

// Start arms the cron job. Starting a running scheduler replaces its gocron
// scheduler with a fresh one, so exactly one job stays registered.
func (s *FinanceScheduler) Start() error {
	next := gocron.NewScheduler(s.location)
	var job *gocron.Scheduler
	if config.HasSecondsField(s.expr) {
		job = next.CronWithSeconds(s.expr)
	} else {
		job = next.Cron(s.expr)
	}
	if _, err := job.Do(s.tick); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.cron
	s.cron = next
	next.StartAsync()
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
		s.log.Infof("Finance scheduler re-armed (%s)", s.expr)
	} else {
		s.log.Infof("Finance scheduler started (%s)", s.expr)
	}
	return nil
}

// Stop disarms the cron job. It returns false when the scheduler was not
// running. A refresh already in flight is allowed to finish.
func (s *FinanceScheduler) Stop() bool {
	s.mu.Lock()
	prev := s.cron
	s.cron = nil
	s.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Stop()
	s.log.Info("Finance scheduler stopped")
	return true
}

// TriggerNow runs the refresh immediately, in either state. It does not
// change whether the cron job is armed.
func (s *FinanceScheduler) TriggerNow(ctx context.Context) error {
	// the refresh outlives the HTTP request that triggered it
	return s.run(context.WithoutCancel(ctx), "manual")
}

// IsActive reports whether the cron job is armed
func (s *FinanceScheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// GetStatus returns a snapshot of the scheduler state
func (s *FinanceScheduler) GetStatus() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SchedulerState{
		Active:    s.cron != nil,
		Schedule:  s.expr,
		Running:   s.inFlight.Load(),
		LastError: s.lastError,
	}
	if s.lastUpdate != nil {
		t := *s.lastUpdate
		state.LastUpdateTime = &t
	}
	if state.Active {
		next := s.schedule.Next(time.Now().In(s.location))
		state.NextRun = &next
	}
	return state
}

func (s *FinanceScheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return s.cron.Len()
}
