package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour)

	token, err := svc.GenerateAccessToken("user-42")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID())
	assert.Equal(t, issuer, claims.Issuer)
	assert.Equal(t, time.Hour, svc.GetAccessExpire())
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService(testSecret, -time.Minute)

	token, err := svc.GenerateAccessToken("user-42")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTService_WrongSecret(t *testing.T) {
	token, err := NewJWTService(testSecret, time.Hour).GenerateAccessToken("user-42")
	require.NoError(t, err)

	_, err = NewJWTService("another-secret-another-secret-xx", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_Garbage(t *testing.T) {
	_, err := NewJWTService(testSecret, time.Hour).ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_EmptySubject(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour)
	token, err := svc.GenerateAccessToken("")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPeekUserID(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour)
	token, err := svc.GenerateAccessToken("user-42")
	require.NoError(t, err)

	userID, err := PeekUserID(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	_, err = PeekUserID("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
