package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("s3cret", 2)

	token, err := svc.Generate("ci-bot", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestGenerateRejectsUnknownRole(t *testing.T) {
	_, err := NewJWTService("s3cret", 1).Generate("x", "admin")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestMissingSecret(t *testing.T) {
	svc := NewJWTService("", 1)
	_, err := svc.Generate("x", RoleViewer)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.Validate("anything")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := NewJWTService("one", 1).Generate("x", RoleViewer)
	require.NoError(t, err)

	_, err = NewJWTService("two", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpired(t *testing.T) {
	svc := NewJWTService("s3cret", 1)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Generate("x", RoleViewer)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{Role: RoleOperator, RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewJWTService("s3cret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
