package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/razvoz/internal/model"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret-key"

	token, err := GenerateToken(secret, "u-1", "bakery", model.RoleProvider)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "bakery", claims.Username)
	assert.Equal(t, model.RoleProvider, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokensHaveUniqueIDs(t *testing.T) {
	a, err := GenerateToken("s", "u-1", "x", model.RoleVolunteer)
	require.NoError(t, err)
	b, err := GenerateToken("s", "u-1", "x", model.RoleVolunteer)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret1", "u-1", "admin", model.RoleAdmin)
	require.NoError(t, err)

	_, err = ValidateToken("secret2", token)
	assert.Error(t, err)
}

func TestValidateTokenInvalid(t *testing.T) {
	_, err := ValidateToken("secret", "not-a-token")
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	claims := Claims{
		UserID:   "u-1",
		Username: "admin",
		Role:     model.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ValidateToken("secret", signed)
	assert.Error(t, err)
}

func TestValidateTokenUnknownRole(t *testing.T) {
	claims := Claims{UserID: "u-1", Username: "x", Role: "manager"}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ValidateToken("secret", signed)
	assert.Error(t, err)
}
