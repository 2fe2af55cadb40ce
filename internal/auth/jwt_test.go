package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	principal := &Principal{ID: 7, UID: "ab12cd34ef567", Kind: KindCustomer, Name: "Ann", Role: RoleCustomer}

	token, err := manager.GenerateToken(principal)
	require.NoError(t, err)

	t.Run("验证令牌", func(t *testing.T) {
		claims, err := manager.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, uint(7), claims.UserID)
		assert.Equal(t, "ab12cd34ef567", claims.UID)
		assert.Equal(t, KindCustomer, claims.Kind)
		assert.Equal(t, RoleCustomer, claims.Role)
		assert.Equal(t, "customer:ab12cd34ef567", claims.Subject)
		assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
	})

	t.Run("密钥不同", func(t *testing.T) {
		_, err := NewJWTManager("other-secret", time.Hour).ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("签发者不同", func(t *testing.T) {
		claims := &JWTClaims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = manager.ValidateToken(foreign)
		assert.Error(t, err)
	})

	t.Run("过期令牌", func(t *testing.T) {
		expired, err := NewJWTManager("test-secret", -time.Minute).GenerateToken(principal)
		require.NoError(t, err)
		_, err = manager.ValidateToken(expired)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})
}

func TestRefreshToken(t *testing.T) {
	principal := &Principal{ID: 1, UID: "u1", Kind: KindUser, Name: "admin", Role: "admin"}

	long := NewJWTManager("test-secret", time.Hour)
	token, err := long.GenerateToken(principal)
	require.NoError(t, err)
	_, err = long.RefreshToken(token)
	assert.Error(t, err, "离过期还早")

	short := NewJWTManager("test-secret", 10*time.Minute)
	token, err = short.GenerateToken(principal)
	require.NoError(t, err)
	refreshed, err := short.RefreshToken(token)
	require.NoError(t, err)

	claims, err := short.ValidateToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, KindUser, claims.Kind)
	assert.Equal(t, "admin", claims.Username)
}

func TestExtractTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def", "abc.def"},
		{"Bearer ", ""},
		{"bearer abc", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTokenFromHeader(tt.header), tt.header)
	}
}
