package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/repository"
)

// SchedulerConfig holds configuration specific to the scheduled-message poller.
type SchedulerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
}

// Scheduler dispatches messages whose schedule_at has come due. Acquisition
// uses FOR UPDATE SKIP LOCKED inside one transaction with the dispatch, so
// concurrent scheduler instances never double-dispatch a message.
type Scheduler struct {
	db          DB
	messageRepo repository.MessageRepository
	dispatcher  *Dispatcher
	cfg         SchedulerConfig
	logger      *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	db DB,
	messageRepo repository.MessageRepository,
	dispatcher *Dispatcher,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Scheduler{
		db:          db,
		messageRepo: messageRepo,
		dispatcher:  dispatcher,
		cfg:         cfg,
		logger:      logger.With("service", "scheduler"),
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.PollingInterval.String(), "batch_size", s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.PollAndDispatch(ctx); err != nil {
				s.logger.ErrorContext(ctx, "poll cycle failed", "error", err)
			}
		}
	}
}

// PollAndDispatch claims one batch of due messages and dispatches their jobs.
// It returns the number of messages dispatched in this cycle.
func (s *Scheduler) PollAndDispatch(ctx context.Context) (int, error) {
	dispatched := 0
	txErr := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		due, err := s.messageRepo.AcquireDueScheduled(ctx, tx, time.Now().UTC(), s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to acquire due messages: %w", err)
		}
		for _, msg := range due {
			if err := s.dispatcher.DispatchInTx(ctx, tx, msg); err != nil {
				schedulerDispatchedCounter.WithLabelValues("error").Inc()
				return fmt.Errorf("failed to dispatch due message %s: %w", msg.ID, err)
			}
			schedulerDispatchedCounter.WithLabelValues("success").Inc()
			dispatched++
		}
		return nil
	})
	if txErr != nil {
		return dispatched, txErr
	}
	if dispatched > 0 {
		s.logger.InfoContext(ctx, "dispatched due scheduled messages", "count", dispatched)
	}
	return dispatched, nil
}
