package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/httputil"
	"github.com/redmonkez12/accounts-api/internal/logging"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	UserIDContextKey ContextKey = "user_id"
)

// AccessVerifier verifies access tokens.
type AccessVerifier interface {
	VerifyAccess(token string) (*TokenClaims, error)
}

// Middleware handles authentication for protected routes
type Middleware struct {
	verifier AccessVerifier
}

func NewMiddleware(verifier AccessVerifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// RequireAuth validates the "Authorization: Bearer <access>" header and puts
// the user ID into the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "Authentication credentials were not provided.", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
			httputil.RespondErrorWithCode(w, "Authorization header must contain two space-delimited values", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		claims, err := m.verifier.VerifyAccess(token)
		if err != nil {
			logging.GetLoggerFromContext(r.Context()).Debug("access token rejected", "error", err)
			httputil.RespondErrorWithCode(w, "Given token not valid for any token type", httputil.CodeTokenNotValid, http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			httputil.RespondErrorWithCode(w, "Given token not valid for any token type", httputil.CodeTokenNotValid, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return userID, ok
}
