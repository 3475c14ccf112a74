package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestParseToken(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	raw := sign(t, jwt.MapClaims{"sub": "7", "type": "access", "exp": exp.Unix()})

	claims, err := ParseToken("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.ExpiresAt.Equal(exp))
	assert.False(t, claims.Expired(time.Now()))
	assert.True(t, claims.Expired(exp.Add(time.Second)))
}

func TestParseTokenRejects(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"garbage":     "not-a-jwt",
		"refresh":     sign(t, jwt.MapClaims{"sub": "7", "type": "refresh"}),
		"no subject":  sign(t, jwt.MapClaims{"type": "access"}),
		"bad subject": sign(t, jwt.MapClaims{"sub": "abc"}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
