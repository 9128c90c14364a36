package client

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/core"
)

// DefaultPollInterval is the fallback polling cadence.
const DefaultPollInterval = 15 * time.Second

// Scheduler reconciles the three update sources (poll tick, push events,
// optimistic post-confirmation refreshes) into the shared View. Only one full
// refresh cycle may run at a time; event application bypasses the guard and
// relies on the reducer's idempotence.
type Scheduler struct {
	backend  Backend
	view     *View
	logger   *slog.Logger
	interval time.Duration

	inFlight atomic.Bool
}

// NewScheduler builds a reconciliation scheduler over backend and view.
func NewScheduler(backend Backend, view *View, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		backend:  backend,
		view:     view,
		logger:   logger.With("component", "scheduler"),
		interval: interval,
	}
}

// Run polls on the configured interval until ctx is cancelled. It performs an
// immediate refresh on entry so a fresh connection renders promptly.
func (s *Scheduler) Run(ctx context.Context, self common.Address) {
	s.Refresh(ctx, self)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx, self)
		}
	}
}

// Refresh runs one full poll cycle. Overlapping invocations are coalesced:
// the second caller observes the guard and returns immediately.
func (s *Scheduler) Refresh(ctx context.Context, self common.Address) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer s.inFlight.Store(false)

	// Each read degrades its own widget on failure and retries next cycle.
	if count, err := s.backend.Count(ctx); err != nil {
		s.logger.Warn("count read failed", "error", err)
		s.view.Degrade("count")
	} else {
		s.view.SetCount(count)
	}

	if board, err := s.backend.Leaderboard(ctx); err != nil {
		s.logger.Warn("leaderboard read failed", "error", err)
		s.view.Degrade("board")
	} else {
		s.view.SetBoard(board)
	}

	if stats, err := s.backend.UserStats(ctx, self); err != nil {
		s.logger.Warn("stats read failed", "error", err)
		s.view.Degrade("stats")
	} else {
		s.view.SetStats(stats)
	}

	if fee, err := s.backend.Fee(ctx); err != nil {
		s.logger.Warn("fee read failed", "error", err)
		s.view.Degrade("fee")
	} else {
		s.view.SetFee(fee)
	}
	return true
}

// RefreshUser re-reads only the caller-dependent widgets (stats, fee) after a
// confirmed transaction. The counter and leaderboard arrive via the event
// stream, or via the fallback poll when no event lands in time.
func (s *Scheduler) RefreshUser(ctx context.Context, self common.Address) {
	if stats, err := s.backend.UserStats(ctx, self); err != nil {
		s.logger.Warn("stats read failed", "error", err)
		s.view.Degrade("stats")
	} else {
		s.view.SetStats(stats)
	}
	if fee, err := s.backend.Fee(ctx); err != nil {
		s.logger.Warn("fee read failed", "error", err)
		s.view.Degrade("fee")
	} else {
		s.view.SetFee(fee)
	}
}

// HandleEvent folds one push event into the view. Safe to call concurrently
// with a refresh cycle; the reducer is idempotent under duplicates.
func (s *Scheduler) HandleEvent(evt core.StreamEvent, self common.Address) {
	s.view.ApplyEvent(evt, self)
}

// AwaitEventOrResync waits for the stream to advance past prevSeq. If no
// event lands within window, it forces a degraded-mode poll so the view
// cannot silently drift after a confirmed write.
func (s *Scheduler) AwaitEventOrResync(ctx context.Context, self common.Address, prevSeq uint64, window time.Duration) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.logger.Info("no event within window, forcing resync", "prevSeq", prevSeq)
			s.Refresh(ctx, self)
			return
		case <-tick.C:
			if s.view.LastEventSeq() > prevSeq {
				return
			}
		}
	}
}
