package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc, err := NewJWTService(DefaultJWTConfig("s3cret"))
	require.NoError(t, err)

	token, err := svc.GenerateToken("u1", "ci-admin", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, RoleOperator, claims.Role)
}

func TestJWTService_RejectsForeignSecret(t *testing.T) {
	a, _ := NewJWTService(DefaultJWTConfig("one"))
	b, _ := NewJWTService(DefaultJWTConfig("two"))

	token, err := a.GenerateToken("u1", "x", RoleAdmin)
	require.NoError(t, err)

	_, err = b.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Expired(t *testing.T) {
	cfg := DefaultJWTConfig("s3cret")
	cfg.TokenExpiry = -time.Minute
	svc, _ := NewJWTService(cfg)

	token, err := svc.GenerateToken("u1", "x", RoleViewer)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig(""))
	assert.Error(t, err)
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleOperator))
	assert.True(t, RoleOperator.HasPermission(RoleOperator))
	assert.False(t, RoleViewer.HasPermission(RoleOperator))

	_, err := ParseRole("root")
	assert.Error(t, err)
	r, err := ParseRole("operator")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, r)
}
