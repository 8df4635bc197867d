package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// revokedTTLFallback bounds a revocation marker whose token key has no TTL.
const revokedTTLFallback = 7 * 24 * time.Hour

// RedisRepository handles refresh token persistence in Redis
type RedisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// getTokenKey generates the Redis key for a refresh token
func getTokenKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

// getRevokedKey generates the Redis key for a revoked token marker
func getRevokedKey(jti string) string {
	return fmt.Sprintf("refresh_token:revoked:%s", jti)
}

// getUserTokensKey generates the Redis key for user's token set
func getUserTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_tokens:%s", userID.String())
}

// StoreRefreshToken records an outstanding refresh token with TTL
func (r *RedisRepository) StoreRefreshToken(ctx context.Context, userID uuid.UUID, jti string, expiresAt time.Time) error {
	tokenKey := getTokenKey(jti)
	userTokensKey := getUserTokensKey(userID)

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token expiration time is in the past")
	}

	pipe := r.client.TxPipeline()

	pipe.HSet(ctx, tokenKey, map[string]any{
		"user_id":    userID.String(),
		"expires_at": expiresAt.Unix(),
		"created_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, tokenKey, ttl)

	// The user's set lives as long as their newest token
	pipe.SAdd(ctx, userTokensKey, jti)
	pipe.Expire(ctx, userTokensKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// GetRefreshToken returns the record for jti. A revoked token is returned
// with RevokedAt set.
func (r *RedisRepository) GetRefreshToken(ctx context.Context, jti string) (*RefreshToken, error) {
	data, err := r.client.HGetAll(ctx, getTokenKey(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrRefreshTokenNotFound
	}

	userID, err := uuid.Parse(data["user_id"])
	if err != nil {
		return nil, ErrInvalidToken
	}

	expiresAtUnix, _ := strconv.ParseInt(data["expires_at"], 10, 64)
	createdAtUnix, _ := strconv.ParseInt(data["created_at"], 10, 64)

	rt := &RefreshToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: time.Unix(expiresAtUnix, 0),
		CreatedAt: time.Unix(createdAtUnix, 0),
	}

	revokedAt, err := r.client.Get(ctx, getRevokedKey(jti)).Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	default:
		if unix, perr := strconv.ParseInt(revokedAt, 10, 64); perr == nil {
			t := time.Unix(unix, 0)
			rt.RevokedAt = &t
		} else {
			now := time.Now()
			rt.RevokedAt = &now
		}
	}

	return rt, nil
}

// RevokeRefreshToken blacklists jti. The marker is written with SETNX so
// that only the first of several concurrent callers succeeds.
func (r *RedisRepository) RevokeRefreshToken(ctx context.Context, jti string) error {
	tokenKey := getTokenKey(jti)

	ttl, err := r.client.TTL(ctx, tokenKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get token TTL: %w", err)
	}
	// -2: key does not exist
	if ttl == -2 {
		return ErrRefreshTokenNotFound
	}
	if ttl <= 0 {
		ttl = revokedTTLFallback
	}

	ok, err := r.client.SetNX(ctx, getRevokedKey(jti), time.Now().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !ok {
		return ErrRefreshTokenRevoked
	}

	return nil
}

// RevokeAllUserTokens revokes all refresh tokens for a user
func (r *RedisRepository) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	jtis, err := r.client.SMembers(ctx, getUserTokensKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to get user tokens: %w", err)
	}

	if len(jtis) == 0 {
		return nil
	}

	now := time.Now().Unix()
	pipe := r.client.Pipeline()
	for _, jti := range jtis {
		ttl, err := r.client.TTL(ctx, getTokenKey(jti)).Result()
		if err != nil {
			return fmt.Errorf("failed to get token TTL: %w", err)
		}
		if ttl == -2 {
			continue // already expired
		}
		if ttl <= 0 {
			ttl = revokedTTLFallback
		}
		pipe.SetNX(ctx, getRevokedKey(jti), now, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}

	return nil
}

// CleanupExpiredTokens is a no-op: Redis expires token keys and markers by TTL.
func (r *RedisRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return 0, nil
}
