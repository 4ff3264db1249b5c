package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/db"
)

func TestGetJWTSecret_GeneratesAndPersists(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	secret1, err := GetJWTSecret(ctx, database)
	require.NoError(t, err)
	require.Len(t, secret1, 64) // 32 bytes = 64 hex chars

	secret2, err := GetJWTSecret(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, secret1, secret2)
}

func TestGetSettingMissing(t *testing.T) {
	database := db.NewTestDB(t)

	value, ok, err := GetSetting(context.Background(), database, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestEnsureSettingKeepsFirstValue(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	v, err := ensureSetting(ctx, database, "k", "first")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = ensureSetting(ctx, database, "k", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}
