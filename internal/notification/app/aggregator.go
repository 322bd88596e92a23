package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

// Aggregator recomputes a message's aggregate status from the full set of its
// attempts. The row lock on the message is the single serialization point for
// concurrent channel jobs of one message; without it two jobs finishing at the
// same instant could lose an update.
type Aggregator struct {
	db          DB
	messageRepo repository.MessageRepository
	attemptRepo repository.AttemptRepository
	eventRepo   repository.EventRepository
	logger      *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(
	db DB,
	messageRepo repository.MessageRepository,
	attemptRepo repository.AttemptRepository,
	eventRepo repository.EventRepository,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		db:          db,
		messageRepo: messageRepo,
		attemptRepo: attemptRepo,
		eventRepo:   eventRepo,
		logger:      logger.With("service", "aggregator"),
	}
}

// computeStatus applies the transition rules to attempt counts, in order.
func computeStatus(total, succeeded, failed int) domain.MessageStatus {
	switch {
	case total > 0 && succeeded == total:
		return domain.MessageStatusDelivered
	case total > 0 && failed == total:
		return domain.MessageStatusFailed
	case succeeded > 0:
		return domain.MessageStatusPartiallyDelivered
	default:
		return domain.MessageStatusProcessing
	}
}

// Recompute locks the message row, aggregates over all attempts (all channels,
// all retries), writes the new status, and emits each terminal event at most
// once per status value actually reached.
func (a *Aggregator) Recompute(ctx context.Context, messageID string) error {
	return pgx.BeginFunc(ctx, a.db, func(tx pgx.Tx) error {
		msg, err := a.messageRepo.GetByIDForUpdate(ctx, tx, messageID)
		if err != nil {
			if errors.Is(err, domain.ErrMessageNotFound) {
				a.logger.WarnContext(ctx, "recompute for missing message, nothing to do", "message_id", messageID)
				return nil
			}
			return err
		}

		attempts, err := a.attemptRepo.ListByMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}

		var total, succeeded, failed int
		for _, attempt := range attempts {
			total++
			switch attempt.Status {
			case domain.AttemptStatusSucceeded:
				succeeded++
			case domain.AttemptStatusFailed:
				failed++
			}
		}

		newStatus := computeStatus(total, succeeded, failed)

		// Written even when unchanged so updated_at reflects the recompute.
		if err := a.messageRepo.UpdateStatus(ctx, tx, messageID, newStatus); err != nil {
			return err
		}

		// Terminal events are guarded by the previous status so repeated
		// recomputes after a terminal state never emit duplicates. Mixed and
		// intermediate outcomes emit nothing.
		previous := msg.Status
		if newStatus == domain.MessageStatusDelivered && previous != domain.MessageStatusDelivered {
			delivered := domain.NewMessageEvent(messageID, domain.EventMessageDelivered)
			if err := a.eventRepo.Insert(ctx, tx, &delivered); err != nil {
				return err
			}
		}
		if newStatus == domain.MessageStatusFailed && previous != domain.MessageStatusFailed {
			failedEvent := domain.NewMessageEvent(messageID, domain.EventMessageFailed)
			if err := a.eventRepo.Insert(ctx, tx, &failedEvent); err != nil {
				return err
			}
		}

		if newStatus != previous {
			a.logger.InfoContext(ctx, "message status transitioned",
				"message_id", messageID, "from", string(previous), "to", string(newStatus),
				"attempts", total, "succeeded", succeeded, "failed", failed)
		}
		return nil
	})
}
