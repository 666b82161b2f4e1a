package app

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/observability"
)

// Scheduler periodically refreshes the last requested city.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	controller *Controller
	interval   time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a Scheduler. A non-positive interval disables it.
func NewScheduler(ctrl *Controller, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		controller: ctrl,
		interval:   interval,
		logger:     observability.OrNop(logger),
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("periodic refresh disabled")
		return nil
	}
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.tick)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("periodic refresh scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) tick() {
	city := s.controller.LastCity()
	if city == "" {
		s.logger.Debug("scheduled refresh skipped: no city yet")
		return
	}
	s.logger.Debug("scheduled refresh", zap.String("city", city))
	if err := s.controller.Refresh(context.Background(), city); err != nil {
		s.logger.Warn("scheduled refresh failed", zap.String("city", city), zap.Error(err))
	}
}
