// server/internal/api/middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"lab-booking-api-server/internal/auth"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// Authenticate verifies the bearer token and puts the caller's auth.Session
// into the request context.
func Authenticate(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		session, err := tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// CurrentSession returns the session stored by Authenticate.
func CurrentSession(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.Session{}, false
	}
	s, ok := v.(auth.Session)
	return s, ok
}

// Authorize lets the request through only for the given roles.
func Authorize(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := CurrentSession(c)
		if !ok {
			// Authenticate must run first
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
			return
		}

		for _, role := range allowedRoles {
			if role == session.Role {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to access this resource"})
	}
}
