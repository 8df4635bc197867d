package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshTokenRepository records outstanding refresh tokens and blacklists
// them. RevokeRefreshToken must be atomic: exactly one concurrent caller
// succeeds, the rest get ErrRefreshTokenRevoked.
type RefreshTokenRepository interface {
	StoreRefreshToken(ctx context.Context, userID uuid.UUID, jti string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, jti string) error
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}
