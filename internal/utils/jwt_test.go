package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 42, "STUDENT", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "STUDENT", claims.Role)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestParseAccessToken_Rejects(t *testing.T) {
	good, err := NewAccessToken("s3cret", 42, "STUDENT", time.Hour)
	require.NoError(t, err)
	expired, err := NewAccessToken("s3cret", 42, "STUDENT", -time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]struct{ secret, raw string }{
		"wrong secret": {"other", good.Token},
		"expired":      {"s3cret", expired.Token},
		"no exp":       {"s3cret", noExp},
		"garbage":      {"s3cret", "not.a.jwt"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAccessToken(tt.secret, tt.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAccessClaims_UserID(t *testing.T) {
	_, err := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}.UserID()
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = AccessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "0"}}.UserID()
	assert.ErrorIs(t, err, ErrInvalidToken)
}
