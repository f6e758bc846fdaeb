package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	SetSecret("test-secret")

	signed, err := GenerateAccessToken(42, 3)
	require.NoError(t, err)

	token, err := VerifyJWT(signed)
	require.NoError(t, err)

	userID, version, err := GetDataFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), userID)
	assert.Equal(t, uint64(3), version)
	assert.False(t, IsRefreshToken(token))
}

func TestRefreshToken(t *testing.T) {
	SetSecret("test-secret")

	signed, err := GenerateRefreshToken(7, 0)
	require.NoError(t, err)

	token, err := VerifyJWT(signed)
	require.NoError(t, err)
	assert.True(t, IsRefreshToken(token))
}

func TestVerifyJWT_WrongSecret(t *testing.T) {
	SetSecret("one")
	signed, err := GenerateAccessToken(1, 0)
	require.NoError(t, err)

	SetSecret("two")
	_, err = VerifyJWT(signed)
	assert.Error(t, err)
}

func TestVerifyJWT_Expired(t *testing.T) {
	SetSecret("test-secret")

	signed, err := generate(1, 0, tokenTypeAccess, -time.Minute)
	require.NoError(t, err)

	_, err = VerifyJWT(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyJWT_RejectsNoneAlgorithm(t *testing.T) {
	SetSecret("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = VerifyJWT(signed)
	assert.Error(t, err)
}
