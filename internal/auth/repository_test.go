package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/accounts-api/internal/database"
)

func newMockTokenRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return NewRepository(database.NewBunDB(sqlDB)), mock
}

var refreshTokenColumns = []string{"jti", "user_id", "expires_at", "created_at", "revoked_at"}

func TestRepository_StoreRefreshToken(t *testing.T) {
	repo, mock := newMockTokenRepo(t)

	mock.ExpectQuery(`INSERT INTO "refresh_tokens" .* RETURNING "revoked_at"`).
		WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(nil))

	err := repo.StoreRefreshToken(context.Background(), uuid.New(), "j1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetRefreshToken(t *testing.T) {
	repo, mock := newMockTokenRepo(t)
	userID := uuid.New()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	revoked := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT .* FROM "refresh_tokens" AS "rt" WHERE \(jti = 'j1'\)`).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns).
			AddRow("j1", userID.String(), expires, revoked, revoked))

	rt, err := repo.GetRefreshToken(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", rt.JTI)
	assert.Equal(t, userID, rt.UserID)
	assert.True(t, rt.IsRevoked())
	assert.False(t, rt.IsValid())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetRefreshToken_NotFound(t *testing.T) {
	repo, mock := newMockTokenRepo(t)

	mock.ExpectQuery(`SELECT .* FROM "refresh_tokens"`).
		WillReturnRows(sqlmock.NewRows(refreshTokenColumns))

	_, err := repo.GetRefreshToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRepository_RevokeRefreshToken(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "outstanding",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "refresh_tokens" AS "rt" SET revoked_at = .* WHERE \(jti = 'j1'\) AND \(revoked_at IS NULL\)`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "already revoked",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "refresh_tokens"`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: ErrRefreshTokenRevoked,
		},
		{
			name: "unknown",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "refresh_tokens"`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT EXISTS`).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: ErrRefreshTokenNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockTokenRepo(t)
			tt.setup(mock)

			err := repo.RevokeRefreshToken(context.Background(), "j1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_RevokeRefreshToken_DBError(t *testing.T) {
	repo, mock := newMockTokenRepo(t)

	mock.ExpectExec(`UPDATE "refresh_tokens"`).WillReturnError(errors.New("connection reset"))

	err := repo.RevokeRefreshToken(context.Background(), "j1")
	require.Error(t, err)
	assert.False(t, IsTokenError(err))
}

func TestRepository_RevokeAllUserTokens(t *testing.T) {
	repo, mock := newMockTokenRepo(t)
	userID := uuid.New()

	mock.ExpectExec(`UPDATE "refresh_tokens" AS "rt" SET revoked_at = .* WHERE \(user_id = '` + userID.String() + `'\) AND \(revoked_at IS NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeAllUserTokens(context.Background(), userID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CleanupExpiredTokens(t *testing.T) {
	repo, mock := newMockTokenRepo(t)

	mock.ExpectExec(`DELETE FROM "refresh_tokens" AS "rt" WHERE \(expires_at < `).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.CleanupExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
