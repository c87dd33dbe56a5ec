package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorfleet/deploy-console/internal/config"
	"github.com/sensorfleet/deploy-console/internal/models"
)

func newManager(secret string, ttl time.Duration) *JWTManager {
	return NewJWTManager(&config.JWTConfig{
		Secret:         secret,
		Issuer:         "sensorfleet",
		AccessTokenTTL: ttl,
	})
}

func TestGenerateAndValidate(t *testing.T) {
	m := newManager("s3cret", time.Hour)
	op := &models.Operator{UserID: "u-1", Email: "ops@example.org", FirstName: "Ada", LastName: "Okello"}

	token, err := m.GenerateToken(op)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, op, claims.Operator())
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := newManager("one", time.Hour).GenerateToken(&models.Operator{UserID: "u-1"})
	require.NoError(t, err)

	_, err = newManager("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	m := newManager("s3cret", -time.Minute)
	token, err := m.GenerateToken(&models.Operator{UserID: "u-1"})
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	_, err := newManager("s3cret", time.Hour).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaims_OperatorFallsBackToSubject(t *testing.T) {
	c := &Claims{Email: "ops@example.org"}
	c.Subject = "u-9"
	assert.Equal(t, "u-9", c.Operator().UserID)
}
