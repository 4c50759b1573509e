package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrypster/recollect/internal/storage"
	"github.com/scrypster/recollect/pkg/types"
)

// CreateSpace inserts a new space.
func (s *Store) CreateSpace(ctx context.Context, space *types.Space) error {
	if space == nil || space.ID == "" {
		return fmt.Errorf("%w: space ID is required", storage.ErrInvalidInput)
	}
	if space.OwnerID == "" {
		return fmt.Errorf("%w: space owner is required", storage.ErrInvalidInput)
	}
	if space.CreatedAt.IsZero() {
		space.CreatedAt = now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, org_id, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, space.ID, space.OrgID, space.OwnerID, space.Name, space.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create space: %w", err)
	}
	return nil
}

// GetSpace retrieves a space by ID.
func (s *Store) GetSpace(ctx context.Context, id string) (*types.Space, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: space ID is required", storage.ErrInvalidInput)
	}

	var space types.Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, owner_id, name, created_at FROM spaces WHERE id = $1
	`, id).Scan(&space.ID, &space.OrgID, &space.OwnerID, &space.Name, &space.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get space: %w", err)
	}
	return &space, nil
}
