package middleware

import (
	"net/http"
	"strings"

	"pairlink/internal/core/services"

	"github.com/gin-gonic/gin"
)

const subjectContextKey = "auth_subject"

// AuthMiddleware validates bearer tokens on admin endpoints
func AuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid token"
			if err == services.ErrExpiredToken {
				msg = "token expired"
			}
			c.JSON(status, gin.H{"error": msg})
			c.Abort()
			return
		}

		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the subject when a valid token is present
// but never rejects the request
func OptionalAuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				if claims, err := tokens.ValidateToken(parts[1]); err == nil {
					c.Set(subjectContextKey, claims.Subject)
				}
			}
		}
		c.Next()
	}
}

// AuthSubject returns the authenticated subject from the request context
func AuthSubject(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectContextKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
