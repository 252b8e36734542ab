package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestGenerateAndValidateUserJWT(t *testing.T) {
	token, exp, err := GenerateUserJWT("u1", time.Hour, testSecret)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), exp, 5)

	claims, err := ValidateUserJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
}

func TestGenerateUserJWT_Rejects(t *testing.T) {
	_, _, err := GenerateUserJWT("u1", time.Hour, nil)
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, _, err = GenerateUserJWT("", time.Hour, testSecret)
	assert.Error(t, err)
}

func TestValidateUserJWT(t *testing.T) {
	valid, _, err := GenerateUserJWT("u1", time.Hour, testSecret)
	require.NoError(t, err)

	expired, _, err := GenerateUserJWT("u1", -time.Minute, testSecret)
	require.NoError(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignToken, err := foreign.SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{name: "wrong secret", token: valid, secret: []byte("other")},
		{name: "expired", token: expired, secret: testSecret},
		{name: "garbage", token: "not.a.token", secret: testSecret},
		{name: "empty", token: "", secret: testSecret},
		{name: "foreign issuer", token: foreignToken, secret: testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateUserJWT(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
