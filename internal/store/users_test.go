package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/db"
	"github.com/erazemk/razvoz/internal/model"
)

func TestCreateAndGetUser(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, database, "bakery", "hash123", model.RoleProvider)
	require.NoError(t, err)
	assert.Equal(t, "bakery", user.Username)
	assert.Equal(t, model.RoleProvider, user.Role)
	assert.NotEmpty(t, user.ID)

	got, err := GetUser(ctx, database, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bakery", got.Username)
}

func TestGetUserNotFound(t *testing.T) {
	database := db.NewTestDB(t)

	got, err := GetUser(context.Background(), database, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeletedUsernameCanBeReused(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	first, err := CreateUser(ctx, database, "driver", "h", model.RoleVolunteer)
	require.NoError(t, err)

	_, err = CreateUser(ctx, database, "driver", "h", model.RoleVolunteer)
	assert.Error(t, err, "duplicate active username should fail")

	require.NoError(t, DeleteUser(ctx, database, first.ID))

	second, err := CreateUser(ctx, database, "driver", "h", model.RoleVolunteer)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	byName, err := GetUserByUsername(ctx, database, "driver")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, second.ID, byName.ID)
}

func TestListUsersByRole(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateUser(ctx, database, "a", "h", model.RoleVolunteer)
	CreateUser(ctx, database, "b", "h", model.RoleVolunteer)
	CreateUser(ctx, database, "c", "h", model.RoleShelter)

	all, err := ListUsers(ctx, database, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	vols, err := ListUsers(ctx, database, model.RoleVolunteer)
	require.NoError(t, err)
	assert.Len(t, vols, 2)
}
