package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/faterr"
	"github.com/notisend/gateway/internal/notification/provider"
	"github.com/notisend/gateway/internal/notification/repository"
	"github.com/prometheus/client_golang/prometheus"
)

// Processor executes one delivery job: open an attempt, invoke the provider,
// persist the outcome, recompute the aggregate status.
//
// The returned error is the retry signal for the queue layer: nil means done
// (ack), a fatal error (faterr.IsFatal) means the job must not be retried
// (terminate), anything else requests redelivery (nak). Every outcome leaves a
// durable trail before the signal is returned.
type Processor struct {
	db          DB
	messageRepo repository.MessageRepository
	attemptRepo repository.AttemptRepository
	eventRepo   repository.EventRepository
	registry    *provider.Registry
	aggregator  *Aggregator
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(
	db DB,
	messageRepo repository.MessageRepository,
	attemptRepo repository.AttemptRepository,
	eventRepo repository.EventRepository,
	registry *provider.Registry,
	aggregator *Aggregator,
	sendTimeout time.Duration,
	logger *slog.Logger,
) *Processor {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Processor{
		db:          db,
		messageRepo: messageRepo,
		attemptRepo: attemptRepo,
		eventRepo:   eventRepo,
		registry:    registry,
		aggregator:  aggregator,
		sendTimeout: sendTimeout,
		logger:      logger.With("service", "processor"),
	}
}

// Process runs the attempt state machine for one job.
func (p *Processor) Process(ctx context.Context, job domain.Job) error {
	timer := prometheus.NewTimer(jobProcessingDurationHist.WithLabelValues(string(job.Channel)))
	defer timer.ObserveDuration()

	logger := p.logger.With("message_id", job.MessageID, "channel", string(job.Channel))

	msg, err := p.messageRepo.GetByID(ctx, p.db, job.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			// Nothing to deliver and nothing to record; drop the job.
			logger.WarnContext(ctx, "job references unknown message, dropping")
			jobsProcessedCounter.WithLabelValues(string(job.Channel), "skipped").Inc()
			return nil
		}
		return fmt.Errorf("failed to load message for job: %w", err)
	}

	// A message that reached delivered is logically terminal; a stale
	// redelivery must not add attempts to it.
	if msg.Status == domain.MessageStatusDelivered {
		logger.InfoContext(ctx, "message already delivered, skipping job")
		jobsProcessedCounter.WithLabelValues(string(job.Channel), "skipped").Inc()
		return nil
	}

	prov, err := p.registry.Resolve(job.Channel)
	if err != nil {
		// Deployment defect: the channel was accepted but no adapter serves it.
		logger.ErrorContext(ctx, "no provider for job channel", "error", err)
		jobsProcessedCounter.WithLabelValues(string(job.Channel), "failed_fatal").Inc()
		return faterr.NewFatal("channel_not_supported", err)
	}
	logger = logger.With("provider", prov.Name())

	// Validation failure before an attempt exists signals a permanent
	// configuration or envelope defect; the job aborts attempt-less.
	if err := prov.Validate(&msg.Envelope); err != nil {
		logger.WarnContext(ctx, "provider validation rejected envelope", "error", err)
		jobsProcessedCounter.WithLabelValues(string(job.Channel), "failed_fatal").Inc()
		return faterr.NewFatal("invalid_payload", err)
	}

	// Attempt open: attempt row and attempt.started commit atomically.
	attempt := &domain.Attempt{
		MessageID: msg.ID,
		Channel:   job.Channel,
		Provider:  prov.Name(),
		Status:    domain.AttemptStatusStarted,
	}
	txErr := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := p.attemptRepo.Create(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}
		started := domain.NewAttemptEvent(msg.ID, domain.EventAttemptStarted, job.Channel, prov.Name(), nil)
		if err := p.eventRepo.Insert(ctx, tx, &started); err != nil {
			return fmt.Errorf("failed to record attempt.started: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	logger = logger.With("attempt_id", attempt.ID)

	// Prepare and send run outside any transaction: they are I/O bound and
	// must not hold database locks.
	prep, err := prov.Prepare(&msg.Envelope)
	if err != nil {
		// A pure transform that fails will fail identically on redelivery.
		return p.failAttempt(ctx, logger, msg, attempt, faterr.NewFatal("invalid_payload", err))
	}
	prep.AttemptID = attempt.ID

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	sendTimer := prometheus.NewTimer(providerSendDurationHist.WithLabelValues(string(job.Channel), prov.Name()))
	resp, err := prov.Send(sendCtx, prep)
	sendTimer.ObserveDuration()
	cancel()
	if err != nil {
		// Unexpected transport failure; the durable trail is written before
		// the retry signal propagates.
		return p.failAttempt(ctx, logger, msg, attempt, err)
	}

	// Result persist: derived events and the terminal attempt update commit
	// atomically.
	txErr = pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		for _, event := range prov.MapEvents(resp, msg.ID) {
			event := event
			if err := p.eventRepo.Insert(ctx, tx, &event); err != nil {
				return fmt.Errorf("failed to record provider event: %w", err)
			}
		}
		status := domain.AttemptStatusSucceeded
		var errDetail *string
		if !resp.Success {
			status = domain.AttemptStatusFailed
			if resp.Error != nil {
				serialized, mErr := json.Marshal(resp.Error)
				if mErr == nil {
					s := string(serialized)
					errDetail = &s
				}
			}
		}
		return p.attemptRepo.Finish(ctx, tx, attempt.ID, status, errDetail, time.Now().UTC())
	})
	if txErr != nil {
		return p.failAttempt(ctx, logger, msg, attempt, txErr)
	}

	if err := p.aggregator.Recompute(ctx, msg.ID); err != nil {
		logger.ErrorContext(ctx, "status recompute failed", "error", err)
		return err
	}

	if resp.Success {
		logger.InfoContext(ctx, "delivery attempt succeeded", "external_id", resp.ExternalID)
		jobsProcessedCounter.WithLabelValues(string(job.Channel), "succeeded").Inc()
		return nil
	}

	// Failed response: the classifier decides whether the queue retries.
	code := ""
	httpStatus := 0
	errMsg := "provider reported failure"
	if resp.Error != nil {
		code = resp.Error.Code
		httpStatus = resp.Error.HTTPStatus
		errMsg = resp.Error.Message
	}
	if faterr.Classify(code, httpStatus) == faterr.Fatal {
		logger.WarnContext(ctx, "delivery attempt failed fatally", "code", code, "http_status", httpStatus)
		jobsProcessedCounter.WithLabelValues(string(job.Channel), "failed_fatal").Inc()
		return faterr.NewFatal(code, errors.New(errMsg))
	}
	logger.WarnContext(ctx, "delivery attempt failed, eligible for retry", "code", code, "http_status", httpStatus)
	jobsProcessedCounter.WithLabelValues(string(job.Channel), "failed_transient").Inc()
	return fmt.Errorf("transient delivery failure on %s: %s", job.Channel, errMsg)
}

// failAttempt is the exception path: it finishes the attempt as failed with
// the raw error, records attempt.failed, recomputes the status, and then
// re-raises cause so the queue layer applies its retry policy.
func (p *Processor) failAttempt(ctx context.Context, logger *slog.Logger, msg *domain.Message, attempt *domain.Attempt, cause error) error {
	errMsg := cause.Error()
	payload, _ := json.Marshal(map[string]any{"error": errMsg})

	txErr := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if err := p.attemptRepo.Finish(ctx, tx, attempt.ID, domain.AttemptStatusFailed, &errMsg, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to finish attempt after error: %w", err)
		}
		failed := domain.NewAttemptEvent(msg.ID, domain.EventAttemptFailed, attempt.Channel, attempt.Provider, payload)
		if err := p.eventRepo.Insert(ctx, tx, &failed); err != nil {
			return fmt.Errorf("failed to record attempt.failed: %w", err)
		}
		return nil
	})
	if txErr != nil {
		logger.ErrorContext(ctx, "failed to persist attempt failure", "error", txErr, "cause", errMsg)
	}

	if err := p.aggregator.Recompute(ctx, msg.ID); err != nil {
		logger.ErrorContext(ctx, "status recompute failed after attempt failure", "error", err)
	}

	outcome := "failed_transient"
	if faterr.IsFatal(cause) {
		outcome = "failed_fatal"
	}
	logger.WarnContext(ctx, "delivery attempt errored", "error", errMsg, "outcome", outcome)
	jobsProcessedCounter.WithLabelValues(string(attempt.Channel), outcome).Inc()
	return cause
}
