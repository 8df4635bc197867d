package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the bun model for the users table.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	Email        string     `bun:"email,notnull"`
	Username     string     `bun:"username,notnull"`
	FirstName    string     `bun:"first_name,notnull"`
	LastName     string     `bun:"last_name,notnull"`
	PasswordHash string     `bun:"password_hash,notnull"`
	Avatar       *string    `bun:"avatar"`
	Bio          string     `bun:"bio,notnull"`
	IsActive     bool       `bun:"is_active,notnull"`
	LastLogin    *time.Time `bun:"last_login"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

// RefreshToken is the bun model for the refresh_tokens table. Rows are keyed
// by the token's jti; the signed token itself is never stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	JTI       string     `bun:"jti,pk"`
	UserID    uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at"`
}
