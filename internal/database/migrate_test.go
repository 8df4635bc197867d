package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		body, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", e.Name())
		assert.Contains(t, string(body), "-- +goose Down", e.Name())
	}
}

func TestUsersMigrationNamesUniqueConstraints(t *testing.T) {
	body, err := fs.ReadFile(migrations, "migrations/00001_create_users.sql")
	require.NoError(t, err)

	// user.Repository maps unique violations by these constraint names
	assert.True(t, strings.Contains(string(body), "users_email_key"))
	assert.True(t, strings.Contains(string(body), "users_username_key"))
}
