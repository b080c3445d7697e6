package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/internal/gatehouse/store"
)

// HousekeepingService periodically deletes aged rows from the tables
// gatehouse owns so the request log, block list, active sessions and error
// log never grow without bound. Cleanup runs entirely off the request path;
// the middleware may additionally trigger a sampled RunOnce, fire-and-forget.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker. Blocks until any
// in-progress cleanup finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one cleanup sweep. Each deletion is independent; a
// failure in one table never stops the others.
func (s *HousekeepingService) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	var totalDeleted int64

	if n, err := s.Store.RequestLog().DeleteOlderThan(ctx, now.Add(-domain.RequestLogRetention)); err != nil {
		s.Logger.Error("failed to purge request log", "error", err)
	} else {
		totalDeleted += n
	}

	if n, err := s.Store.Blocks().DeleteExpired(ctx, now); err != nil {
		s.Logger.Error("failed to purge expired blocks", "error", err)
	} else {
		totalDeleted += n
	}

	if n, err := s.Store.Sessions().DeleteStale(ctx, now.Add(-domain.SessionStaleAfter)); err != nil {
		s.Logger.Error("failed to prune stale sessions", "error", err)
	} else {
		totalDeleted += n
	}

	if n, err := s.Store.Errors().DeleteOlderThan(ctx, now.Add(-domain.ErrorLogRetention)); err != nil {
		s.Logger.Error("failed to purge error log", "error", err)
	} else {
		totalDeleted += n
	}

	s.Logger.Debug("housekeeping sweep completed", "rows_deleted", totalDeleted)
}
