package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/accounts-api/internal/database"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUsername = errors.New("username already exists")
)

// PostgreSQL unique_violation and the constraint names from the users migration.
const (
	pgUniqueViolation        = "23505"
	emailUniqueConstraint    = "users_email_key"
	usernameUniqueConstraint = "users_username_key"
)

// Repository handles user data persistence
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. Uniqueness of email and username is enforced by
// the database; violations come back as ErrDuplicateEmail/ErrDuplicateUsername.
func (r *Repository) Create(ctx context.Context, nu NewUser) (*User, error) {
	if nu.ID == uuid.Nil {
		nu.ID = uuid.New()
	}

	now := time.Now().UTC()
	dbUser := &database.User{
		ID:           nu.ID,
		Email:        nu.Email,
		Username:     nu.Username,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		Avatar:       nu.Avatar,
		Bio:          nu.Bio,
		IsActive:     nu.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Exec(ctx)
	if err != nil {
		if dupErr := mapUniqueViolation(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// UpdateLastLogin stamps the user's last successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("last_login = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", userID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return requireRowsAffected(result)
}

// SetActiveByEmail activates or deactivates the account with the given email.
func (r *Repository) SetActiveByEmail(ctx context.Context, email string, active bool) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("email = ?", email).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update active flag: %w", err)
	}

	return requireRowsAffected(result)
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// mapUniqueViolation returns the duplicate sentinel for a unique_violation on
// the users table, or nil for any other error.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgUniqueViolation {
		return nil
	}

	switch pqErr.Constraint {
	case emailUniqueConstraint:
		return ErrDuplicateEmail
	case usernameUniqueConstraint:
		return ErrDuplicateUsername
	default:
		return fmt.Errorf("unexpected unique violation on %q: %w", pqErr.Constraint, err)
	}
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:           dbu.ID,
		Email:        dbu.Email,
		Username:     dbu.Username,
		FirstName:    dbu.FirstName,
		LastName:     dbu.LastName,
		PasswordHash: dbu.PasswordHash,
		Avatar:       dbu.Avatar,
		Bio:          dbu.Bio,
		IsActive:     dbu.IsActive,
		LastLogin:    dbu.LastLogin,
		CreatedAt:    dbu.CreatedAt,
		UpdatedAt:    dbu.UpdatedAt,
	}
}
