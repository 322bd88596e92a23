package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

type pgMessageRepository struct{}

// NewPgMessageRepository creates a message repository for PostgreSQL.
func NewPgMessageRepository() repository.MessageRepository {
	return &pgMessageRepository{}
}

const messageColumns = `id, project_id, idempotency_key, envelope, status, created_at, updated_at`

func (r *pgMessageRepository) CreateIfAbsent(ctx context.Context, q repository.Querier, msg *domain.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = domain.MessageStatusPending
	}

	envelopeJSON, err := json.Marshal(msg.Envelope)
	if err != nil {
		return false, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	// ON CONFLICT DO NOTHING makes intake idempotent without a read-then-write
	// race window: the second insert for the same (project, key) affects zero rows.
	// schedule_at is denormalized out of the envelope so the scheduler can poll
	// it with an index.
	query := `
		INSERT INTO messages (id, project_id, idempotency_key, envelope, status, schedule_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, idempotency_key) DO NOTHING
	`
	tag, err := q.Exec(ctx, query,
		msg.ID, msg.ProjectID, msg.IdempotencyKey, envelopeJSON, msg.Status, msg.Envelope.ScheduleAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	var envelopeJSON []byte
	err := row.Scan(
		&msg.ID, &msg.ProjectID, &msg.IdempotencyKey, &envelopeJSON, &msg.Status, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(envelopeJSON, &msg.Envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope for message %s: %w", msg.ID, err)
	}
	return msg, nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	return scanMessage(q.QueryRow(ctx, query, id))
}

func (r *pgMessageRepository) GetByProjectID(ctx context.Context, q repository.Querier, projectID, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND project_id = $2`
	return scanMessage(q.QueryRow(ctx, query, id, projectID))
}

func (r *pgMessageRepository) GetByIdempotencyKey(ctx context.Context, q repository.Querier, projectID, key string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE project_id = $1 AND idempotency_key = $2`
	return scanMessage(q.QueryRow(ctx, query, projectID, key))
}

func (r *pgMessageRepository) GetByIDForUpdate(ctx context.Context, q repository.Querier, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 FOR UPDATE`
	return scanMessage(q.QueryRow(ctx, query, id))
}

func (r *pgMessageRepository) UpdateStatus(ctx context.Context, q repository.Querier, id string, status domain.MessageStatus) error {
	query := `UPDATE messages SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) AcquireDueScheduled(ctx context.Context, q repository.Querier, due time.Time, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = $1 AND schedule_at IS NOT NULL AND schedule_at <= $2
		ORDER BY schedule_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := q.Query(ctx, query, domain.MessageStatusPending, due, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		var envelopeJSON []byte
		if err := rows.Scan(
			&msg.ID, &msg.ProjectID, &msg.IdempotencyKey, &envelopeJSON, &msg.Status, &msg.CreatedAt, &msg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(envelopeJSON, &msg.Envelope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal envelope for message %s: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
