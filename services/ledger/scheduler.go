package ledger

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers time-based Merkle checkpoints, complementing the
// count trigger inside Append.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *zap.Logger
}

// NewScheduler creates a checkpoint scheduler for the given ledger.
func NewScheduler(service *Service, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
}

// Start registers the cron schedule (standard 5-field spec, e.g. "*/15 * * * *")
// and begins running it in the background.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.service.Checkpoint(context.Background()); err != nil {
			s.logger.Error("scheduled checkpoint failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("checkpoint scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running checkpoint to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
