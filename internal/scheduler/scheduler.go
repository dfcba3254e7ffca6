package scheduler

import (
	"context"
	"sync"
	"time"

	"sales-sync/config"
	"sales-sync/internal/connector"
	"sales-sync/internal/service"
	"sales-sync/internal/util"

	"go.uber.org/zap"
)

// Clock abstracts wall time so the due-time logic is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Runner executes one sync pass.
type Runner interface {
	Run(ctx context.Context, kind string, dr connector.DateRange) (*service.RunReport, error)
}

// StateStore persists sync state across restarts.
type StateStore interface {
	SetSyncRunning(ctx context.Context, running bool) error
	SetLastSyncAt(ctx context.Context, kind string, at time.Time) error
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning      bool               `json:"is_running"`
	CurrentKind    string             `json:"current_kind,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	LastFullSyncAt *time.Time         `json:"last_full_sync_at,omitempty"`
	LastLiveSyncAt *time.Time         `json:"last_live_sync_at,omitempty"`
	LastReport     *service.RunReport `json:"last_report,omitempty"`
}

const tickInterval = time.Minute

// Scheduler drives the background sync cadence: one full sync per day at a
// fixed hour covering the trailing window, plus live syncs at a fixed
// interval during active hours. At most one run executes at a time,
// whatever triggered it.
type Scheduler struct {
	runner Runner
	state  StateStore
	clock  Clock
	cfg    config.SyncConfig
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	currentKind string
	startedAt   time.Time
	lastFull    *time.Time
	lastLive    *time.Time
	lastReport  *service.RunReport

	stop     chan struct{}
	stopOnce sync.Once
}

func New(runner Runner, state StateStore, cfg config.SyncConfig) *Scheduler {
	return NewWithClock(runner, state, cfg, realClock{})
}

func NewWithClock(runner Runner, state StateStore, cfg config.SyncConfig, clock Clock) *Scheduler {
	return &Scheduler{
		runner: runner,
		state:  state,
		clock:  clock,
		cfg:    cfg,
		logger: util.NamedLogger("scheduler"),
		stop:   make(chan struct{}),
	}
}

// Restore seeds last-sync times from persisted state, typically right after
// construction. A stale running flag from a crashed process is cleared.
func (s *Scheduler) Restore(ctx context.Context, lastFull, lastLive *time.Time) {
	s.mu.Lock()
	s.lastFull = lastFull
	s.lastLive = lastLive
	s.mu.Unlock()

	if err := s.state.SetSyncRunning(ctx, false); err != nil {
		s.logger.Warn("Failed to clear persisted running flag", zap.Error(err))
	}
}

// Start runs the tick loop until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler starting",
		zap.Int("full_sync_hour", s.cfg.FullSyncHour),
		zap.Int("live_interval_minutes", s.cfg.LiveIntervalMinutes),
		zap.Int("active_hours_start", s.cfg.ActiveHourStart),
		zap.Int("active_hours_end", s.cfg.ActiveHourEnd))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return
		case <-s.stop:
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends the tick loop. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	if s.fullSyncDue(now) {
		s.TriggerFull(ctx)
		return
	}
	if s.liveSyncDue(now) {
		s.TriggerLive(ctx)
	}
}

// fullSyncDue reports whether the daily full sync should fire: at or after
// the configured time of day, at most once per calendar day.
func (s *Scheduler) fullSyncDue(now time.Time) bool {
	due := time.Date(now.Year(), now.Month(), now.Day(),
		s.cfg.FullSyncHour, s.cfg.FullSyncMinute, 0, 0, now.Location())
	if now.Before(due) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFull == nil {
		return true
	}
	y1, m1, d1 := s.lastFull.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// liveSyncDue reports whether an interval live sync should fire: inside the
// active hour window and at least the configured interval since the last one.
func (s *Scheduler) liveSyncDue(now time.Time) bool {
	hour := now.Hour()
	if hour < s.cfg.ActiveHourStart || hour >= s.cfg.ActiveHourEnd {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastLive == nil {
		return true
	}
	interval := time.Duration(s.cfg.LiveIntervalMinutes) * time.Minute
	return now.Sub(*s.lastLive) >= interval
}

// TriggerFull starts a full sync unless a run is already in flight.
// Returns false when rejected.
func (s *Scheduler) TriggerFull(ctx context.Context) bool {
	return s.trigger(ctx, service.KindFull)
}

// TriggerLive starts a live sync unless a run is already in flight.
func (s *Scheduler) TriggerLive(ctx context.Context) bool {
	return s.trigger(ctx, service.KindLive)
}

func (s *Scheduler) trigger(ctx context.Context, kind string) bool {
	if !s.tryBegin(kind) {
		util.SyncRunsRejectedTotal.WithLabelValues(kind).Inc()
		s.logger.Info("Sync trigger rejected, run already in flight", zap.String("kind", kind))
		return false
	}
	util.SyncRunsStartedTotal.WithLabelValues(kind).Inc()

	// An HTTP trigger's request context is cancelled once the response is
	// written; the run and its state writes must not die with it.
	go s.runOnce(context.WithoutCancel(ctx), kind)
	return true
}

// tryBegin claims the single run slot.
func (s *Scheduler) tryBegin(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.currentKind = kind
	s.startedAt = s.clock.Now()
	return true
}

// finish releases the run slot. It runs in a defer so the slot is released
// on every exit path, including panics inside the runner.
func (s *Scheduler) finish(kind string, completedAt time.Time, report *service.RunReport) {
	s.mu.Lock()
	s.running = false
	s.currentKind = ""
	switch kind {
	case service.KindFull:
		s.lastFull = &completedAt
	case service.KindLive:
		s.lastLive = &completedAt
	}
	if report != nil {
		s.lastReport = report
	}
	s.mu.Unlock()
}

func (s *Scheduler) runOnce(ctx context.Context, kind string) {
	var report *service.RunReport

	defer func() {
		completedAt := s.clock.Now()
		if r := recover(); r != nil {
			s.logger.Error("Sync run panicked", zap.Any("panic", r), zap.String("kind", kind))
		}
		s.finish(kind, completedAt, report)

		if err := s.state.SetSyncRunning(ctx, false); err != nil {
			s.logger.Warn("Failed to persist running flag", zap.Error(err))
		}
		if err := s.state.SetLastSyncAt(ctx, kind, completedAt); err != nil {
			s.logger.Warn("Failed to persist last sync time", zap.Error(err))
		}
	}()

	if err := s.state.SetSyncRunning(ctx, true); err != nil {
		s.logger.Warn("Failed to persist running flag", zap.Error(err))
	}

	var err error
	report, err = s.runner.Run(ctx, kind, s.rangeFor(kind))
	if err != nil {
		s.logger.Error("Sync run failed", zap.String("kind", kind), zap.Error(err))
	}
}

// rangeFor picks the date range per run kind: full syncs cover the trailing
// configured window, live syncs cover the current day.
func (s *Scheduler) rangeFor(kind string) connector.DateRange {
	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if kind == service.KindFull {
		return connector.DateRange{
			Start: today.AddDate(0, 0, -s.cfg.FullSyncDays),
			End:   today,
		}
	}
	return connector.DateRange{Start: today, End: today}
}

// CurrentStatus snapshots the scheduler state.
func (s *Scheduler) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		IsRunning:      s.running,
		CurrentKind:    s.currentKind,
		LastFullSyncAt: s.lastFull,
		LastLiveSyncAt: s.lastLive,
		LastReport:     s.lastReport,
	}
	if s.running {
		startedAt := s.startedAt
		status.StartedAt = &startedAt
	}
	return status
}
