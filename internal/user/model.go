package user

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"` // Never expose password hash in JSON
	Avatar       *string    `json:"-"` // storage key; rendered as a URL by the handler
	Bio          string     `json:"bio"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FullName returns first and last name separated by a space, trimmed.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// NewUser carries the fields needed to insert a user. ID is assigned by the
// caller so that dependent resources (avatars) can be keyed before insert.
type NewUser struct {
	ID           uuid.UUID
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	Avatar       *string
	Bio          string
	IsActive     bool
}
