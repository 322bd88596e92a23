package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/faterr"
	"github.com/notisend/gateway/internal/platform/messagebroker"
	"golang.org/x/sync/errgroup"
)

const (
	// StreamName is the JetStream work-queue stream holding delivery jobs.
	StreamName = "NOTIFY"
	// consumerDurable is the shared durable pull consumer all worker
	// processes attach to.
	consumerDurable = "delivery_workers"
	// jobTimeout bounds one job end to end, provider hang included.
	jobTimeout = 60 * time.Second
)

// WorkerConfig tunes the delivery worker's consumption behavior.
type WorkerConfig struct {
	Concurrency  int
	MaxDeliver   int
	RetryBackoff time.Duration
}

// Worker consumes delivery jobs from JetStream with bounded concurrency and
// maps processor outcomes onto queue ack semantics: ack on success, terminate
// on fatal (no redelivery), nak with backoff on transient so the consumer's
// MaxDeliver policy retries and eventually dead-letters.
type Worker struct {
	nats      *messagebroker.NATSClient
	processor *Processor
	cfg       WorkerConfig
	logger    *slog.Logger

	group      errgroup.Group
	consumeCtx jetstream.ConsumeContext
}

// NewWorker creates a Worker.
func NewWorker(nats *messagebroker.NATSClient, processor *Processor, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	return &Worker{
		nats:      nats,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With("service", "delivery_worker"),
	}
}

// Start ensures the stream and consumer exist and begins consuming jobs.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.nats.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{JobSubjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return err
	}

	consumer, err := w.nats.JS.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerDurable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       jobTimeout + 30*time.Second,
		MaxDeliver:    w.cfg.MaxDeliver,
		MaxAckPending: w.cfg.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to create delivery consumer: %w", err)
	}

	w.group.SetLimit(w.cfg.Concurrency)
	w.consumeCtx, err = consumer.Consume(func(msg jetstream.Msg) {
		w.group.Go(func() error {
			w.handle(msg)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming delivery jobs: %w", err)
	}

	w.logger.Info("delivery worker consuming",
		"stream", StreamName, "durable", consumerDurable,
		"concurrency", w.cfg.Concurrency, "max_deliver", w.cfg.MaxDeliver)
	return nil
}

func (w *Worker) handle(msg jetstream.Msg) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		// Malformed payloads can never succeed; drop without redelivery.
		w.logger.Error("failed to unmarshal job payload, terminating", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := w.processor.Process(ctx, job)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Warn("failed to ack job", "error", ackErr, "message_id", job.MessageID)
		}
	case faterr.IsFatal(err):
		// Fatal means retrying can never succeed; terminate so the queue
		// stops redelivering.
		w.logger.Warn("terminating fatal job", "error", err, "message_id", job.MessageID, "channel", string(job.Channel))
		if termErr := msg.Term(); termErr != nil {
			w.logger.Warn("failed to terminate job", "error", termErr, "message_id", job.MessageID)
		}
	default:
		w.logger.Warn("nacking job for retry", "error", err, "message_id", job.MessageID, "channel", string(job.Channel))
		if nakErr := msg.NakWithDelay(w.cfg.RetryBackoff); nakErr != nil {
			w.logger.Warn("failed to nak job", "error", nakErr, "message_id", job.MessageID)
		}
	}
}

// Stop drains the consumer and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.consumeCtx != nil {
		w.consumeCtx.Drain()
	}
	_ = w.group.Wait()
	w.logger.Info("delivery worker stopped")
}
