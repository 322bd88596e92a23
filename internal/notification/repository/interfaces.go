package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/notisend/gateway/internal/notification/domain"
)

// Querier abstracts over *pgxpool.Pool and pgx.Tx so repository methods can
// run either standalone or inside a caller-owned transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageRepository persists messages and their aggregate status.
type MessageRepository interface {
	// CreateIfAbsent inserts the message unless a row with the same
	// (project_id, idempotency_key) already exists. Returns true when the
	// insert happened. The check-and-insert is a single atomic statement.
	CreateIfAbsent(ctx context.Context, q Querier, msg *domain.Message) (bool, error)
	// GetByID fetches a message without tenant scoping (worker side).
	GetByID(ctx context.Context, q Querier, id string) (*domain.Message, error)
	// GetByProjectID fetches a message scoped to a tenant; cross-tenant ids
	// return domain.ErrMessageNotFound.
	GetByProjectID(ctx context.Context, q Querier, projectID, id string) (*domain.Message, error)
	// GetByIdempotencyKey resolves the existing message for a duplicate intake.
	GetByIdempotencyKey(ctx context.Context, q Querier, projectID, key string) (*domain.Message, error)
	// GetByIDForUpdate locks the message row (SELECT ... FOR UPDATE) for the
	// duration of the surrounding transaction. Serializes status aggregation.
	GetByIDForUpdate(ctx context.Context, q Querier, id string) (*domain.Message, error)
	// UpdateStatus writes the aggregate status and refreshes updated_at.
	UpdateStatus(ctx context.Context, q Querier, id string, status domain.MessageStatus) error
	// AcquireDueScheduled claims up to limit pending messages whose
	// schedule_at has passed, locking them with FOR UPDATE SKIP LOCKED so
	// concurrent scheduler instances never double-dispatch.
	AcquireDueScheduled(ctx context.Context, q Querier, due time.Time, limit int) ([]*domain.Message, error)
}

// AttemptRepository persists per-channel delivery attempts.
type AttemptRepository interface {
	Create(ctx context.Context, q Querier, attempt *domain.Attempt) (*domain.Attempt, error)
	// Finish records the terminal outcome of an attempt. Attempts are never
	// mutated after finished_at is set.
	Finish(ctx context.Context, q Querier, id string, status domain.AttemptStatus, errDetail *string, finishedAt time.Time) error
	ListByMessage(ctx context.Context, q Querier, messageID string) ([]domain.Attempt, error)
}

// EventRepository appends to the message audit trail.
type EventRepository interface {
	Insert(ctx context.Context, q Querier, event *domain.Event) error
	ListByMessage(ctx context.Context, q Querier, messageID string) ([]domain.Event, error)
}

// ProjectRepository reads tenant records for authentication.
type ProjectRepository interface {
	GetByID(ctx context.Context, q Querier, id string) (*domain.Project, error)
}
