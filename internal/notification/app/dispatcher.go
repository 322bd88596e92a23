package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

// JobSubjectPrefix is the JetStream subject namespace for delivery jobs; the
// channel name is the final token.
const JobSubjectPrefix = "notify.jobs."

// JobSubject returns the queue subject for a channel's jobs.
func JobSubject(channel domain.Channel) string {
	return JobSubjectPrefix + string(channel)
}

// JobPublisher publishes durable jobs to the queue.
type JobPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Dispatcher fans an accepted message out into one durable job per target
// channel. It must only be invoked for newly created messages (Created=true);
// calling it for an idempotent replay would re-deliver the whole envelope.
type Dispatcher struct {
	db          DB
	messageRepo repository.MessageRepository
	eventRepo   repository.EventRepository
	publisher   JobPublisher
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	db DB,
	messageRepo repository.MessageRepository,
	eventRepo repository.EventRepository,
	publisher JobPublisher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		db:          db,
		messageRepo: messageRepo,
		eventRepo:   eventRepo,
		publisher:   publisher,
		logger:      logger.With("service", "dispatcher"),
	}
}

// Dispatch publishes the message's jobs and marks it queued in one unit.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.Message) error {
	return pgx.BeginFunc(ctx, d.db, func(tx pgx.Tx) error {
		return d.DispatchInTx(ctx, tx, msg)
	})
}

// DispatchInTx is Dispatch running inside a caller-owned transaction; the
// scheduler uses it while it still holds the locks on acquired rows.
//
// Jobs are published before the status flips to queued. If the transaction
// then fails the jobs are already out, which is safe: the queue is
// at-least-once by contract and the processor tolerates early jobs.
func (d *Dispatcher) DispatchInTx(ctx context.Context, tx repository.Querier, msg *domain.Message) error {
	for _, channel := range msg.Envelope.Channels {
		job := domain.Job{MessageID: msg.ID, Channel: channel}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job for channel %s: %w", channel, err)
		}
		if err := d.publisher.Publish(ctx, JobSubject(channel), data); err != nil {
			return fmt.Errorf("failed to publish job for channel %s: %w", channel, err)
		}
		jobsDispatchedCounter.WithLabelValues(string(channel)).Inc()
	}

	if err := d.messageRepo.UpdateStatus(ctx, tx, msg.ID, domain.MessageStatusQueued); err != nil {
		return fmt.Errorf("failed to mark message queued: %w", err)
	}
	queued := domain.NewMessageEvent(msg.ID, domain.EventMessageQueued)
	if err := d.eventRepo.Insert(ctx, tx, &queued); err != nil {
		return fmt.Errorf("failed to record message.queued: %w", err)
	}

	d.logger.InfoContext(ctx, "message dispatched",
		"message_id", msg.ID, "channels", len(msg.Envelope.Channels))
	return nil
}
