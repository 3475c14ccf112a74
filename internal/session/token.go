package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens whose claims cannot identify a user.
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims is what the client reads from an access token. The signature
// is not verified here; the server remains the authority.
type TokenClaims struct {
	UserID    int64
	ExpiresAt time.Time
}

// Expired reports whether the token has expired at now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseToken extracts the user id ("sub") and expiry from an access token.
func ParseToken(raw string) (TokenClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return TokenClaims{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if typ, ok := claims["type"].(string); ok && typ != "access" {
		return TokenClaims{}, fmt.Errorf("%w: %s token", ErrInvalidToken, typ)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return TokenClaims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return TokenClaims{}, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, sub)
	}

	out := TokenClaims{UserID: userID}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
