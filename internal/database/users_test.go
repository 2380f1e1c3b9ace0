package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jms/internal/models"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"ab1", false},
		{"ab12", true},
		{"0000", true},
		{"abcdefghij", true},
		{"abcdefghijk", false},
		{"ab 12", false},
		{"ab-12", false},
		{"пин1", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if tt.valid {
			assert.NoError(t, err, tt.password)
		} else {
			assert.ErrorIs(t, err, ErrValidation, tt.password)
		}
	}
}

func TestChangePassword(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.ChangePassword(ctx, DefaultAdminUsername, "9999", "ab12")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = store.ChangePassword(ctx, DefaultAdminUsername, DefaultAdminPassword, "ab!")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, store.ChangePassword(ctx, DefaultAdminUsername, DefaultAdminPassword, "ab12"))

	_, err = store.VerifyUser(ctx, DefaultAdminUsername, DefaultAdminPassword)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = store.VerifyUser(ctx, DefaultAdminUsername, "ab12")
	assert.NoError(t, err)
}

func TestAddUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	user, err := store.AddUser(ctx, "seller", "sell1", models.RoleUser)
	require.NoError(t, err)
	assert.False(t, user.IsAdmin())
	assert.NotEqual(t, "sell1", user.PasswordHash)

	_, err = store.AddUser(ctx, "seller", "sell2", models.RoleUser)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = store.AddUser(ctx, "other", "sell2", "owner")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.VerifyUser(ctx, "nobody", "sell1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestEnsureDefaultUserForce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.ChangePassword(ctx, DefaultAdminUsername, DefaultAdminPassword, "ab12"))

	require.NoError(t, store.EnsureDefaultUser(ctx, false))
	_, err := store.VerifyUser(ctx, DefaultAdminUsername, "ab12")
	require.NoError(t, err)

	require.NoError(t, store.EnsureDefaultUser(ctx, true))
	_, err = store.VerifyUser(ctx, DefaultAdminUsername, DefaultAdminPassword)
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, store, "users"))
}

func TestMasterKeyFlow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	keys, err := store.GenerateMasterKeys(ctx, 3)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, key := range keys {
		assert.Len(t, key, 18)
		assert.True(t, strings.HasPrefix(key, "JWL-"))
	}

	require.NoError(t, store.ChangePassword(ctx, DefaultAdminUsername, DefaultAdminPassword, "ab12"))

	require.NoError(t, store.UseMasterKey(ctx, "  "+strings.ToLower(keys[0])+" "))
	_, err = store.VerifyUser(ctx, DefaultAdminUsername, DefaultAdminPassword)
	require.NoError(t, err)

	assert.ErrorIs(t, store.UseMasterKey(ctx, keys[0]), ErrUnauthorized)
	assert.ErrorIs(t, store.UseMasterKey(ctx, "JWL-AAAA-BBBB-CCCC"), ErrUnauthorized)
	assert.ErrorIs(t, store.UseMasterKey(ctx, "ABC"), ErrValidation)
	assert.ErrorIs(t, store.UseMasterKey(ctx, ""), ErrValidation)

	stats, err := store.MasterKeyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MasterKeyStats{Total: 3, Used: 1, Remaining: 2}, stats)

	list, err := store.ListMasterKeys(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].IsUsed)
	require.NotNil(t, list[0].UsedBy)
	assert.Equal(t, DefaultAdminUsername, *list[0].UsedBy)
}
