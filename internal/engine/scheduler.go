package engine

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs SyncAllSites periodically and on demand.
//
// While every pass that left something staged did so only because the
// remote was unreachable, the wait between runs doubles up to the maximum
// interval. Any other outcome resets it.
type Scheduler struct {
	engine      *Engine
	interval    time.Duration
	maxInterval time.Duration
	logger      *slog.Logger

	// trigger is buffered (size 1) so bursts of Trigger calls coalesce into
	// one run.
	trigger chan struct{}

	// OnReport, when set, receives every completed run.
	OnReport func(map[string]SiteReport)
}

// NewScheduler creates a scheduler. maxInterval below interval is raised to
// interval.
func NewScheduler(e *Engine, interval, maxInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInterval < interval {
		maxInterval = interval
	}
	return &Scheduler{
		engine:      e,
		interval:    interval,
		maxInterval: maxInterval,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}
}

// Trigger requests a run as soon as possible, e.g. when connectivity comes
// back. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run loops until ctx is done. The first run starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	delay := s.interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			// A manual trigger means the network may be back.
			delay = s.interval
		}

		reports, err := s.engine.SyncAllSites(ctx)
		if err != nil {
			s.logger.Error("scheduled sync failed", "error", err)
		}
		if reports != nil && s.OnReport != nil {
			s.OnReport(reports)
		}
		delay = s.nextDelay(delay, reports, err)
		s.logger.Debug("next scheduled sync", "in", delay)
		timer.Reset(delay)
	}
}

func (s *Scheduler) nextDelay(cur time.Duration, reports map[string]SiteReport, err error) time.Duration {
	if err != nil || !offline(reports) {
		return s.interval
	}
	next := cur * 2
	if next > s.maxInterval || next <= 0 {
		next = s.maxInterval
	}
	return next
}

// offline reports whether at least one pass ran and every pass that left
// data staged did so only because the remote was unreachable.
func offline(reports map[string]SiteReport) bool {
	sawUnavailable := false
	for _, rep := range reports {
		for _, res := range rep.Results {
			switch {
			case res.OnlyUnavailable():
				sawUnavailable = true
			case res.StillPending:
				return false
			}
		}
	}
	return sawUnavailable
}
