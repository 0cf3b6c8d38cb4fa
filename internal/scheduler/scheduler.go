// Package scheduler runs periodic check cycles over all active monitors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/airwatch/internal/detect"
	"github.com/rewired-gh/airwatch/internal/logger"
	"github.com/rewired-gh/airwatch/internal/models"
)

// ErrAllChecksFailed is returned by RunCycle when there were monitors to
// check and none of them succeeded.
var ErrAllChecksFailed = errors.New("every monitor check failed")

// Fetcher retrieves the current reading for a location.
type Fetcher interface {
	FetchReading(ctx context.Context, coords models.Coordinates) (*models.Reading, error)
}

// Store is the part of the monitor store the scheduler writes to.
// RecordCheckIfUnchanged returns models.ErrStale when the monitor's Version
// moved past version.
type Store interface {
	ListActive(ctx context.Context) ([]*models.Monitor, error)
	RecordCheckIfUnchanged(ctx context.Context, monitorID string, version int64, reading *models.Reading, notifications []models.Notification) error
}

// Locker guards a cycle across processes. ok is false when another holder
// owns the lock. held is cancelled if the lock is lost before release.
type Locker interface {
	TryLock(ctx context.Context) (held context.Context, release func(), ok bool, err error)
}

// Alerter notifies operators about failing and recovered cycles.
type Alerter interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

type Config struct {
	Interval     time.Duration
	Concurrency  int
	FetchTimeout time.Duration
	Thresholds   models.Thresholds
}

func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Minute,
		Concurrency:  10,
		FetchTimeout: 10 * time.Second,
		Thresholds:   models.DefaultThresholds(),
	}
}

// Result summarizes one cycle.
type Result struct {
	Monitors      int
	Checked       int
	FetchFailed   int
	StoreFailed   int
	Superseded    int
	Notifications int
	Skipped       bool
	Duration      time.Duration
}

// Summary returns a one-line description for logs and status replies.
func (r Result) Summary() string {
	if r.Skipped {
		return "skipped (cycle lock held elsewhere)"
	}
	summary := fmt.Sprintf("%d monitors: %d checked, %d fetch failures, %d store failures, %d notifications in %v",
		r.Monitors, r.Checked, r.FetchFailed, r.StoreFailed, r.Notifications, r.Duration.Round(time.Millisecond))
	if r.Superseded > 0 {
		summary += fmt.Sprintf(" (%d superseded by a concurrent check)", r.Superseded)
	}
	return summary
}

type outcome int

const (
	outcomeChecked outcome = iota
	outcomeFetchFailed
	outcomeStoreFailed
	outcomeSuperseded
	outcomeAbandoned
)

// Scheduler drives check cycles. Cycles never overlap.
type Scheduler struct {
	store   Store
	fetcher Fetcher
	config  Config
	locker  Locker
	alerter Alerter
	now     func() time.Time

	consecutiveFailures int

	mu         sync.Mutex
	lastResult Result
	lastRunAt  time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLocker makes each cycle acquire l first.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithAlerter reports failing and recovered cycles to a.
func WithAlerter(a Alerter) Option {
	return func(s *Scheduler) { s.alerter = a }
}

// WithClock overrides the time source used for notification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(store Store, fetcher Fetcher, config Config, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Concurrency < 1 {
		config.Concurrency = defaults.Concurrency
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	s := &Scheduler{
		store:   store,
		fetcher: fetcher,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. A cycle that outlasts the interval delays the next one instead
// of overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("Starting check scheduler (interval: %v, concurrency: %d, fetch_timeout: %v)",
		s.config.Interval, s.config.Concurrency, s.config.FetchTimeout)

	s.runAndReport(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Check scheduler stopped")
			return
		case <-ticker.C:
			logger.Debug("Starting scheduled check cycle")
			s.runAndReport(ctx)
		}
	}
}

// LastResult returns the most recent cycle result and when it finished.
func (s *Scheduler) LastResult() (Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.lastRunAt
}

func (s *Scheduler) runAndReport(ctx context.Context) {
	result, err := s.RunCycle(ctx)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		s.consecutiveFailures++
		logger.Error("Check cycle failed: %v", err)
		if s.consecutiveFailures == 1 && s.alerter != nil {
			if sendErr := s.alerter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error alert: %v", sendErr)
			}
		}
		return
	}

	if s.consecutiveFailures > 0 && s.alerter != nil {
		if sendErr := s.alerter.SendRecovery(s.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery alert: %v", sendErr)
		}
	}
	s.consecutiveFailures = 0
	logger.Info("Check cycle completed: %s", result.Summary())
}

// RunCycle checks every active monitor once. Per-monitor failures are logged
// and counted; they never stop the other monitors.
func (s *Scheduler) RunCycle(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	if s.locker != nil {
		held, release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to acquire cycle lock: %w", err)
		}
		if !ok {
			logger.Info("Check cycle skipped: lock held by another instance")
			result.Skipped = true
			s.record(result)
			return result, nil
		}
		defer release()
		ctx = held
	}

	monitors, err := s.store.ListActive(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list active monitors: %w", err)
	}
	result.Monitors = len(monitors)
	logger.Info("Checking %d active monitors", len(monitors))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	for _, m := range monitors {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, created := s.checkMonitor(ctx, m)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeChecked:
				result.Checked++
				result.Notifications += created
			case outcomeFetchFailed:
				result.FetchFailed++
			case outcomeStoreFailed:
				result.StoreFailed++
			case outcomeSuperseded:
				result.Superseded++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	s.record(result)

	if ctx.Err() != nil {
		return result, context.Cause(ctx)
	}
	if result.Monitors > 0 && result.Checked+result.Superseded == 0 {
		return result, fmt.Errorf("%w (%d monitors)", ErrAllChecksFailed, result.Monitors)
	}
	return result, nil
}

// checkMonitor runs fetch, diff and persist for one monitor.
func (s *Scheduler) checkMonitor(ctx context.Context, m *models.Monitor) (outcome, int) {
	if ctx.Err() != nil {
		return outcomeAbandoned, 0
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	reading, err := s.fetcher.FetchReading(fetchCtx, m.Coordinates)
	cancel()
	if err == nil && reading == nil {
		err = errors.New("provider returned no reading")
	}
	if err != nil {
		if ctx.Err() != nil {
			return outcomeAbandoned, 0
		}
		logger.Warn("Failed to fetch reading for monitor %s (%s): %v", m.ID, m.LocationName, err)
		return outcomeFetchFailed, 0
	}

	now := s.now()
	if reading.Timestamp.IsZero() {
		stamped := *reading
		stamped.Timestamp = now
		reading = &stamped
	}

	changes := detect.Diff(m.LastReading, reading, s.config.Thresholds)
	notifications := make([]models.Notification, 0, len(changes))
	for _, c := range changes {
		notifications = append(notifications, models.NewNotification(c, now))
	}

	// a fetched reading is persisted even if shutdown starts meanwhile;
	// the version guard rejects it if another cycle got there first
	err = s.store.RecordCheckIfUnchanged(context.WithoutCancel(ctx), m.ID, m.Version, reading, notifications)
	if errors.Is(err, models.ErrStale) {
		logger.Info("Monitor %s (%s) was checked concurrently; result discarded", m.ID, m.LocationName)
		return outcomeSuperseded, 0
	}
	if err != nil {
		logger.Error("Failed to record check for monitor %s (%s): %v", m.ID, m.LocationName, err)
		return outcomeStoreFailed, 0
	}

	if len(notifications) > 0 {
		logger.Debug("Monitor %s (%s): %d changes recorded", m.ID, m.LocationName, len(notifications))
	}
	return outcomeChecked, len(notifications)
}

func (s *Scheduler) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = r
	s.lastRunAt = time.Now()
}
