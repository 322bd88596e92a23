package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

// DB is the subset of *pgxpool.Pool the application services need: plain
// queries plus the ability to open transactions.
type DB interface {
	repository.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreateResult is the outcome of a message intake call.
type CreateResult struct {
	Message *domain.Message
	// Created is false when the (project, idempotency key) pair already
	// existed; the caller must not dispatch jobs in that case.
	Created bool
}

// IntakeService accepts envelopes into durable messages, exactly once per
// (project, idempotency key) pair.
type IntakeService struct {
	db          DB
	messageRepo repository.MessageRepository
	attemptRepo repository.AttemptRepository
	eventRepo   repository.EventRepository
	logger      *slog.Logger
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(
	db DB,
	messageRepo repository.MessageRepository,
	attemptRepo repository.AttemptRepository,
	eventRepo repository.EventRepository,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		db:          db,
		messageRepo: messageRepo,
		attemptRepo: attemptRepo,
		eventRepo:   eventRepo,
		logger:      logger.With("service", "intake"),
	}
}

// CreateMessage idempotently creates a message from a validated envelope. The
// insert and the message.accepted event commit atomically; a duplicate
// submission resolves to the existing message with Created=false and emits
// nothing. message.queued is the dispatcher's responsibility, never this one's.
func (s *IntakeService) CreateMessage(ctx context.Context, projectID string, env *domain.Envelope) (*CreateResult, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ProjectID:      projectID,
		IdempotencyKey: env.IdempotencyKey,
		Envelope:       *env,
	}

	var created bool
	txErr := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		created, err = s.messageRepo.CreateIfAbsent(ctx, tx, msg)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if !created {
			return nil
		}
		accepted := domain.NewMessageEvent(msg.ID, domain.EventMessageAccepted)
		if err := s.eventRepo.Insert(ctx, tx, &accepted); err != nil {
			return fmt.Errorf("failed to record message.accepted: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if !created {
		existing, err := s.messageRepo.GetByIdempotencyKey(ctx, s.db, projectID, env.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve existing message for idempotency key: %w", err)
		}
		s.logger.InfoContext(ctx, "duplicate intake resolved to existing message",
			"message_id", existing.ID, "project_id", projectID, "idempotency_key", env.IdempotencyKey)
		messagesAcceptedCounter.WithLabelValues("false").Inc()
		return &CreateResult{Message: existing, Created: false}, nil
	}

	s.logger.InfoContext(ctx, "message accepted",
		"message_id", msg.ID, "project_id", projectID, "channels", len(env.Channels))
	messagesAcceptedCounter.WithLabelValues("true").Inc()
	return &CreateResult{Message: msg, Created: true}, nil
}

// GetMessage returns a message with its attempts and events, scoped strictly
// to the requesting project. Cross-tenant ids fail closed as not-found.
func (s *IntakeService) GetMessage(ctx context.Context, projectID, messageID string) (*domain.MessageDetail, error) {
	msg, err := s.messageRepo.GetByProjectID(ctx, s.db, projectID, messageID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attemptRepo.ListByMessage(ctx, s.db, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	events, err := s.eventRepo.ListByMessage(ctx, s.db, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return &domain.MessageDetail{Message: msg, Attempts: attempts, Events: events}, nil
}
