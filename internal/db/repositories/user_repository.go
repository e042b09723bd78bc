// Package repositories implements the data access layer (repository pattern) for the registry.
// Each repository type encapsulates the read queries for a domain entity; every mutation
// goes through the unit of work so that it is captured by the change audit.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/db/models"
)

const userColumns = `id, created_at, updated_at, username, email, first_name, last_name,
		role, enabled, chat_id, notification`

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetEnabledUser retrieves a user by ID only if the account is enabled
func (r *UserRepository) GetEnabledUser(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND enabled = TRUE`, id)
}

// GetUserByRole retrieves a user by ID restricted to one role (e.g. Docente)
func (r *UserRepository) GetUserByRole(ctx context.Context, role string, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND role = $2`, id, role)
}

// GetUserByUsername retrieves a user by username
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
