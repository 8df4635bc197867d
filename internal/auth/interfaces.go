package auth

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/user"
)

// TokenService defines the interface for token creation and validation.
// Implementations include JWTService (HS256) and PasetoService (PASETO v4.local).
type TokenService interface {
	CreateToken(claims TokenClaims) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// UserStore is the subset of user.Repository the auth workflows need.
type UserStore interface {
	Create(ctx context.Context, nu user.NewUser) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdateLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// AvatarStore persists uploaded avatar images.
type AvatarStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Metrics receives workflow outcomes.
type Metrics interface {
	ObserveRegistration(outcome string)
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
}
