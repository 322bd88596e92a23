package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

type pgEventRepository struct{}

// NewPgEventRepository creates an event repository for PostgreSQL.
func NewPgEventRepository() repository.EventRepository {
	return &pgEventRepository{}
}

func (r *pgEventRepository) Insert(ctx context.Context, q repository.Querier, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	query := `
		INSERT INTO events (id, message_id, type, channel, provider, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		event.ID, event.MessageID, event.Type, event.Channel, event.Provider, payload, event.CreatedAt,
	)
	return err
}

func (r *pgEventRepository) ListByMessage(ctx context.Context, q repository.Querier, messageID string) ([]domain.Event, error) {
	query := `
		SELECT id, message_id, type, channel, provider, payload, created_at
		FROM events
		WHERE message_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Type, &e.Channel, &e.Provider, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
