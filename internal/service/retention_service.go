package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type photoSweeper interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RetentionService deletes stored photos once they outlive the retention
// period.
type RetentionService struct {
	photos    photoSweeper
	retention time.Duration
	interval  time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewRetentionService constructs the sweeper. A zero retention disables it.
func NewRetentionService(photos photoSweeper, retention, interval time.Duration, metrics *MetricsService, logger *zap.Logger) *RetentionService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionService{
		photos:    photos,
		retention: retention,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled reports whether photos expire.
func (s *RetentionService) Enabled() bool {
	return s != nil && s.photos != nil && s.retention > 0
}

// StartCleanup sweeps every interval until ctx ends.
func (s *RetentionService) StartCleanup(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Sweep(ctx)
			}
		}
	}()
}

// Sweep deletes photos older than the retention period and returns how many
// were removed.
func (s *RetentionService) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.photos.PurgeOlderThan(ctx, cutoff)
	failed := countFailures(err)
	s.metrics.ObservePhotoPurge(len(deleted), failed)

	if err != nil {
		s.logger.Warn("photo retention sweep incomplete",
			zap.Int("deleted", len(deleted)),
			zap.Int("failed", failed),
			zap.Error(err),
		)
		return len(deleted), err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired photos removed", zap.Int("deleted", len(deleted)), zap.Time("cutoff", cutoff))
	}
	return len(deleted), nil
}

func countFailures(err error) int {
	if err == nil {
		return 0
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return len(joined.Unwrap())
	}
	return 1
}
