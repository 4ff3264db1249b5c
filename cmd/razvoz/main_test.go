package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

func TestGeneratePassword(t *testing.T) {
	p, err := generatePassword(16)
	require.NoError(t, err)
	assert.Len(t, p, 16)
	assert.NoError(t, model.ValidatePassword(p))

	q, err := generatePassword(16)
	require.NoError(t, err)
	assert.NotEqual(t, p, q)
}

func TestInitDatabaseCreatesAdmin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "razvoz.sqlite3")

	database, password, err := initDatabase(path, "Admin")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	u, err := store.GetUserByUsername(context.Background(), database, "Admin")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)))
	assert.False(t, strings.ContainsAny(password, " \t\n"))
}
