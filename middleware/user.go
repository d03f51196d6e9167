package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserHeader carries the caller's user id, set by the authenticating proxy.
	UserHeader = "X-User-ID"
	userKey    = "user_id"
)

// UserContext copies the caller's user id into the request context. It
// never rejects a request; use RequireUser on routes that need a user.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(UserHeader)); id != "" {
			c.Set(userKey, id)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 when no user id is present.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// UserID returns the user id stored by UserContext.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(userKey)
	return id, id != ""
}
