package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/user"
)

// TokenIssuer issues access/refresh pairs and owns the refresh token
// lifecycle: every issued refresh jti is recorded as outstanding, and
// rotation blacklists the presented jti before a new pair is signed.
type TokenIssuer struct {
	tokens          TokenService
	store           RefreshTokenRepository
	users           UserStore
	accessDuration  time.Duration
	refreshDuration time.Duration
	now             func() time.Time
}

func NewTokenIssuer(tokens TokenService, store RefreshTokenRepository, users UserStore, accessDuration, refreshDuration time.Duration) *TokenIssuer {
	return &TokenIssuer{
		tokens:          tokens,
		store:           store,
		users:           users,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
		now:             time.Now,
	}
}

// Issue signs a fresh pair for userID and records the refresh jti.
func (i *TokenIssuer) Issue(ctx context.Context, userID uuid.UUID) (*TokenPair, error) {
	now := i.now().UTC().Truncate(time.Second)

	access, err := i.tokens.CreateToken(TokenClaims{
		UserID:    userID.String(),
		TokenType: TokenTypeAccess,
		JTI:       newJTI(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.accessDuration),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshClaims := TokenClaims{
		UserID:    userID.String(),
		TokenType: TokenTypeRefresh,
		JTI:       newJTI(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.refreshDuration),
	}
	refresh, err := i.tokens.CreateToken(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	if err := i.store.StoreRefreshToken(ctx, userID, refreshClaims.JTI, refreshClaims.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// blacklisted atomically first, so a second attempt with the same token
// fails with ErrRefreshTokenRevoked.
func (i *TokenIssuer) Rotate(ctx context.Context, refresh string) (*TokenPair, uuid.UUID, error) {
	claims, userID, err := i.parseRefresh(refresh)
	if err != nil {
		return nil, uuid.Nil, err
	}

	if err := i.store.RevokeRefreshToken(ctx, claims.JTI); err != nil {
		return nil, userID, err
	}

	u, err := i.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, userID, ErrInvalidToken
		}
		return nil, userID, fmt.Errorf("failed to get user: %w", err)
	}
	if !u.IsActive {
		return nil, userID, ErrInactiveUser
	}

	pair, err := i.Issue(ctx, userID)
	if err != nil {
		return nil, userID, err
	}
	return pair, userID, nil
}

// Revoke blacklists a refresh token (logout).
func (i *TokenIssuer) Revoke(ctx context.Context, refresh string) error {
	claims, _, err := i.parseRefresh(refresh)
	if err != nil {
		return err
	}
	return i.store.RevokeRefreshToken(ctx, claims.JTI)
}

// RevokeAllForUser blacklists every outstanding refresh token of userID.
func (i *TokenIssuer) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	return i.store.RevokeAllUserTokens(ctx, userID)
}

// VerifyAccess verifies an access token and returns its claims.
func (i *TokenIssuer) VerifyAccess(token string) (*TokenClaims, error) {
	claims, err := i.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Verify accepts a token of either type. Refresh tokens must also not be
// blacklisted.
func (i *TokenIssuer) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := i.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}

	switch claims.TokenType {
	case TokenTypeAccess:
		return claims, nil
	case TokenTypeRefresh:
		rt, err := i.store.GetRefreshToken(ctx, claims.JTI)
		if err != nil {
			if errors.Is(err, ErrRefreshTokenNotFound) {
				return claims, nil
			}
			return nil, err
		}
		if rt.IsRevoked() {
			return nil, ErrRefreshTokenRevoked
		}
		return claims, nil
	default:
		return nil, ErrWrongTokenType
	}
}

// PurgeExpired deletes refresh token records that can no longer be used.
func (i *TokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	return i.store.CleanupExpiredTokens(ctx)
}

func (i *TokenIssuer) parseRefresh(refresh string) (*TokenClaims, uuid.UUID, error) {
	claims, err := i.tokens.VerifyToken(refresh)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, uuid.Nil, ErrWrongTokenType
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, uuid.Nil, ErrInvalidToken
	}
	return claims, userID, nil
}

// IsTokenError reports whether err means the presented token cannot be used.
// Such errors are rendered as 401 token_not_valid.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrWrongTokenType) ||
		errors.Is(err, ErrRefreshTokenRevoked) ||
		errors.Is(err, ErrRefreshTokenNotFound) ||
		errors.Is(err, ErrInactiveUser)
}

func newJTI() string {
	return uuid.NewString()
}
