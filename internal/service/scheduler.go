package service

import (
	"context"
	"sync"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Maintenance is the subset of Admin the scheduler drives
type Maintenance interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)
	DueCount(ctx context.Context) (int, error)
}

// Scheduler runs retention cleanup and stale-claim recovery in the background
type Scheduler struct {
	maintenance   Maintenance
	retentionDays int
	interval      time.Duration
	staleAfter    time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewScheduler(maintenance Maintenance, retentionDays, intervalHours int, staleAfter time.Duration, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if staleAfter <= 0 {
		staleAfter = constants.DefaultStaleClaimMinutes * time.Minute
	}
	return &Scheduler{
		maintenance:   maintenance,
		retentionDays: retentionDays,
		interval:      time.Duration(intervalHours) * time.Hour,
		staleAfter:    staleAfter,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called. Cleanup runs every interval;
// stale-claim recovery and the due gauge also run every staleAfter so claims do not wait a full day.
func (s *Scheduler) Start(ctx context.Context) {
	cleanupTicker := time.NewTicker(s.interval)
	defer cleanupTicker.Stop()
	recoveryTicker := time.NewTicker(s.staleAfter)
	defer recoveryTicker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":       s.interval.String(),
		"retention_days": s.retentionDays,
		"stale_after":    s.staleAfter.String(),
	}).Info("Starting maintenance scheduler")

	s.runMaintenance(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-cleanupTicker.C:
			s.runMaintenance(ctx)
		case <-recoveryTicker.C:
			s.runRecovery(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	s.logger.WithField("retention_days", s.retentionDays).Info("Running scheduled cleanup")

	if _, err := s.maintenance.Cleanup(ctx, s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old messages")
	}

	s.runRecovery(ctx)
}

func (s *Scheduler) runRecovery(ctx context.Context) {
	if _, err := s.maintenance.RecoverStaleClaims(ctx, s.staleAfter); err != nil {
		s.logger.WithError(err).Error("Failed to recover stale claims")
	}

	due, err := s.maintenance.DueCount(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to sample due messages")
		return
	}
	metrics.SetGauge("queue_due_messages", float64(due), nil, "Messages currently eligible for dispatch")
}
