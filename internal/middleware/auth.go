package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/session"
)

// UserIDKey is the gin context key holding the session user id.
const UserIDKey = "userID"

// SessionSource exposes the active session.
type SessionSource interface {
	Current() session.Session
}

// SessionGuard rejects requests while no authenticated session is loaded.
func SessionGuard(sessions SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Current()
		if s.Token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
			return
		}
		if s.UserID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session has no user"})
			return
		}

		c.Set(UserIDKey, s.UserID)
		c.Next()
	}
}
