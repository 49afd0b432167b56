package auth

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey      = "auth_user_id"
	authTokenContextKey   = "auth_token"
	tokenSourceContextKey = "auth_token_source"
)

const (
	tokenFromBearer = "bearer"
	tokenFromCookie = "cookie"
)

// Middleware validates bearer tokens and stores the authenticated user in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken, source := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			switch {
			case errors.Is(err, ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "session expired"})
			case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRequired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid token"})
			default:
				log.Printf("[auth] validate token: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"msg": "could not verify session"})
			}
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, authToken)
		c.Set(tokenSourceContextKey, source)
		c.Next()
	}
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	userID, ok := val.(int64)
	return userID, ok
}

// AuthTokenFromContext retrieves the bearer token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// extractToken reads the bearer header first, then the session cookie.
func (s *Service) extractToken(c *gin.Context) (string, string) {
	if token, ok := bearerToken(c.GetHeader(s.headerName)); ok {
		return token, tokenFromBearer
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token, tokenFromCookie
	}
	return "", ""
}

func bearerToken(header string) (string, bool) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	return strings.TrimSpace(header[7:]), true
}
