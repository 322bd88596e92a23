package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
)

type pgProjectRepository struct{}

// NewPgProjectRepository creates a project repository for PostgreSQL.
func NewPgProjectRepository() repository.ProjectRepository {
	return &pgProjectRepository{}
}

func (r *pgProjectRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.Project, error) {
	project := &domain.Project{}
	query := `SELECT id, name, api_key_hash, is_active, created_at FROM projects WHERE id = $1`
	err := q.QueryRow(ctx, query, id).Scan(
		&project.ID, &project.Name, &project.APIKeyHash, &project.IsActive, &project.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, err
	}
	return project, nil
}
