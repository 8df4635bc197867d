package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/accounts-api/internal/database"
)

// Repository handles refresh token persistence in PostgreSQL
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// StoreRefreshToken records an outstanding refresh token
func (r *Repository) StoreRefreshToken(ctx context.Context, userID uuid.UUID, jti string, expiresAt time.Time) error {
	dbToken := &database.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.NewInsert().
		Model(dbToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken retrieves a refresh token record by jti
func (r *Repository) GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error) {
	dbToken := new(database.RefreshToken)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("jti = ?", jti).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return mapDBRefreshTokenToModel(dbToken), nil
}

// RevokeRefreshToken marks a refresh token as revoked. The conditional
// UPDATE is the compare-and-set: only one caller sees a row affected.
func (r *Repository) RevokeRefreshToken(ctx context.Context, jti string) error {
	result, err := r.db.NewUpdate().
		Model((*database.RefreshToken)(nil)).
		Set("revoked_at = ?", time.Now().UTC()).
		Where("jti = ?", jti).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 1 {
		return nil
	}

	exists, err := r.db.NewSelect().
		Model((*database.RefreshToken)(nil)).
		Where("jti = ?", jti).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check refresh token: %w", err)
	}
	if exists {
		return ErrRefreshTokenRevoked
	}
	return ErrRefreshTokenNotFound
}

// RevokeAllUserTokens revokes all refresh tokens for a user
func (r *Repository) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*database.RefreshToken)(nil)).
		Set("revoked_at = ?", time.Now().UTC()).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}

	return nil
}

// CleanupExpiredTokens removes expired tokens from the database and returns
// how many were deleted. Run by `accountsctl purge-tokens`.
func (r *Repository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.RefreshToken)(nil)).
		Where("expires_at < ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

// mapDBRefreshTokenToModel converts database model to domain model
func mapDBRefreshTokenToModel(dbt *database.RefreshToken) *RefreshToken {
	return &RefreshToken{
		JTI:       dbt.JTI,
		UserID:    dbt.UserID,
		ExpiresAt: dbt.ExpiresAt,
		CreatedAt: dbt.CreatedAt,
		RevokedAt: dbt.RevokedAt,
	}
}
