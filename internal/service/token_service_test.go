package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/models"
	appErrors "github.com/noah-isme/ise-timetable-api/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "ise"})

	token, expires, err := svc.Issue("user-1", models.RoleCoordinator)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleCoordinator, claims.Role)
}

func TestTokenServiceRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenService(TokenConfig{Secret: "one"})
	verifier := NewTokenService(TokenConfig{Secret: "two"})

	token, _, err := issuer.Issue("user-1", models.RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestTokenServiceRejectsExpiredToken(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Expiry: time.Minute})
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.Issue("user-1", models.RoleAdmin)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
