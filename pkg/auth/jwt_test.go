package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profiler/pkg/errs"
)

func newService(t *testing.T) *JWTService {
	t.Helper()
	s, err := NewJWTService(JWTConfig{SecretKey: "test-secret", TokenExpiry: time.Minute})
	require.NoError(t, err)
	return s
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(DefaultJWTConfig())
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, "JWT_SECRET", errs.ContextOf(err)[errs.KeyConfigKey])
}

func TestJWT_RoundTrip(t *testing.T) {
	s := newService(t)

	token, err := s.GenerateToken("u-1", "alice", RoleOperator)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "profiler", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestJWT_Expired(t *testing.T) {
	s := newService(t)
	token, err := s.GenerateToken("u-1", "alice", RoleViewer)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWT_RejectsForeignTokens(t *testing.T) {
	s := newService(t)

	other, err := NewJWTService(JWTConfig{SecretKey: "other-secret"})
	require.NoError(t, err)
	token, err := other.GenerateToken("u-1", "mallory", RoleAdmin)
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	foreign, err := NewJWTService(JWTConfig{SecretKey: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	token, err = foreign.GenerateToken("u-1", "mallory", RoleAdmin)
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = s.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_UnknownRole(t *testing.T) {
	s := newService(t)
	token, err := s.GenerateToken("u-1", "alice", Role("root"))
	require.NoError(t, err)
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleOperator))
	assert.True(t, RoleOperator.HasPermission(RoleOperator))
	assert.False(t, RoleViewer.HasPermission(RoleOperator))
	assert.False(t, Role("").HasPermission(RoleViewer))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("viewer")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, r)

	_, err = ParseRole("superuser")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}
