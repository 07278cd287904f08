// Package scheduler runs periodic maintenance over the pending operation ledger.
// The host process calls Start at launch and Stop at shutdown; cmd/core watch
// is the reference host.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/queue"
)

// Ledger is the part of the pending operation ledger the scheduler maintains.
type Ledger interface {
	RemoveCompleted(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Scheduler periodically compacts the ledger by dropping COMPLETED rows.
type Scheduler struct {
	ledger   Ledger
	clock    clock.Clock
	logger   *logging.Logger
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu                   sync.RWMutex
	isRunning            bool
	compactionInProgress bool
	lastCompaction       time.Time
	lastRemoved          int64
	totalRemoved         int64
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	CompactInterval time.Duration // How often to compact (default: 30 minutes)
	Clock           clock.Clock
	Logger          *logging.Logger
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{CompactInterval: 30 * time.Minute}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ledger Ledger, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	interval := config.CompactInterval
	if interval <= 0 {
		interval = DefaultSchedulerConfig().CompactInterval
	}
	c := config.Clock
	if c == nil {
		c = clock.System{}
	}

	return &Scheduler{
		ledger:   ledger,
		clock:    c,
		logger:   logging.Or(config.Logger).With(map[string]interface{}{"component": "scheduler"}),
		interval: interval,
	}
}

// Start starts the background compaction loop. Starting a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.compactionLoop(ctx, s.stopCh)

	s.logger.Info("Ledger compaction scheduler started",
		map[string]interface{}{"interval_minutes": s.interval.Minutes()})
}

// Stop stops the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("Ledger compaction scheduler stopped")
}

func (s *Scheduler) compactionLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := s.CompactNow(ctx); err != nil && !apperrors.Is(err, apperrors.ErrInvariant) {
				s.logger.ErrorWithCode("Ledger compaction failed", string(apperrors.CodeOf(err)), err)
			}
		}
	}
}

// CompactNow removes COMPLETED ledger rows and returns how many were
// removed. A compaction already in progress is an INVARIANT_VIOLATION.
func (s *Scheduler) CompactNow(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if s.compactionInProgress {
		s.mu.Unlock()
		return 0, apperrors.New(apperrors.ErrInvariant, "compaction already in progress")
	}
	s.compactionInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.compactionInProgress = false
		s.mu.Unlock()
	}()

	removed, err := s.ledger.RemoveCompleted(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastCompaction = s.clock.Now()
	s.lastRemoved = removed
	s.totalRemoved += removed
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("Ledger compacted", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// SchedulerStatus is a snapshot of the scheduler and the ledger it maintains.
type SchedulerStatus struct {
	IsRunning            bool
	CompactionInProgress bool
	LastCompaction       *time.Time
	LastRemoved          int64
	TotalRemoved         int64
	LedgerStats          queue.Stats
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:            s.isRunning,
		CompactionInProgress: s.compactionInProgress,
		LastRemoved:          s.lastRemoved,
		TotalRemoved:         s.totalRemoved,
		LedgerStats:          stats,
	}
	if !s.lastCompaction.IsZero() {
		last := s.lastCompaction
		status.LastCompaction = &last
	}
	return status, nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
