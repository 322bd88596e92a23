package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

var ErrAttemptNotFound = errors.New("attempt not found")

type pgAttemptRepository struct{}

// NewPgAttemptRepository creates an attempt repository for PostgreSQL.
func NewPgAttemptRepository() repository.AttemptRepository {
	return &pgAttemptRepository{}
}

func (r *pgAttemptRepository) Create(ctx context.Context, q repository.Querier, attempt *domain.Attempt) (*domain.Attempt, error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now().UTC()
	}
	if attempt.Status == "" {
		attempt.Status = domain.AttemptStatusStarted
	}

	query := `
		INSERT INTO attempts (id, message_id, channel, provider, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.Exec(ctx, query,
		attempt.ID, attempt.MessageID, attempt.Channel, attempt.Provider,
		attempt.Status, attempt.Error, attempt.StartedAt, attempt.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *pgAttemptRepository) Finish(ctx context.Context, q repository.Querier, id string, status domain.AttemptStatus, errDetail *string, finishedAt time.Time) error {
	// finished_at IS NULL guards against mutating an already-terminal attempt.
	query := `
		UPDATE attempts
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1 AND finished_at IS NULL
	`
	tag, err := q.Exec(ctx, query, id, status, errDetail, finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *pgAttemptRepository) ListByMessage(ctx context.Context, q repository.Querier, messageID string) ([]domain.Attempt, error) {
	query := `
		SELECT id, message_id, channel, provider, status, error, started_at, finished_at
		FROM attempts
		WHERE message_id = $1
		ORDER BY started_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Channel, &a.Provider, &a.Status, &a.Error, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}
