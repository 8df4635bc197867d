package auth

import (
	"time"

	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenPair is the access/refresh pair returned by login, registration and
// refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenClaims are the claims carried by both access and refresh tokens.
type TokenClaims struct {
	UserID    string    `json:"user_id"` // UUID stored as string in token
	TokenType string    `json:"token_type"`
	JTI       string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// RefreshToken is an outstanding refresh token record, keyed by jti.
type RefreshToken struct {
	JTI       string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

func (t *RefreshToken) IsValid() bool {
	return !t.IsRevoked() && !t.IsExpired()
}
