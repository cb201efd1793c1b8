package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/auth"
)

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	got, ok := auth.TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = auth.TokenExpiry("opaque-token")
	assert.False(t, ok)
	_, ok = auth.TokenExpiry("")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "7"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = auth.TokenExpiry(noExp)
	assert.False(t, ok)
}
