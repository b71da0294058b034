package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards maintenance endpoints with a static API key.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware creates the middleware. apiKey may be a bcrypt hash of
// the key instead of the key itself. An empty key rejects every request.
func NewAdminMiddleware(apiKey string) *AdminMiddleware {
	return &AdminMiddleware{apiKey: apiKey}
}

// RequireAdminAuth accepts the key as a Bearer token or in X-API-Key.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && strings.EqualFold(tokenParts[0], "bearer") && am.ValidateAdminKey(tokenParts[1]) {
				c.Next()
				return
			}
		}

		if am.ValidateAdminKey(c.GetHeader("X-API-Key")) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin API key required for this endpoint",
		})
	}
}

// ValidateAdminKey validates an admin API key
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if am.apiKey == "" || key == "" {
		return false
	}
	if isBcryptHash(am.apiKey) {
		return bcrypt.CompareHashAndPassword([]byte(am.apiKey), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(am.apiKey)) == 1
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
