package auth

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	errCSRFCookieMissing = errors.New("csrf cookie missing")
	errCSRFHeaderMissing = errors.New("csrf header missing")
	errCSRFMismatch      = errors.New("csrf header does not match cookie")
)

// methods that never change analyses or accounts
var csrfSafeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRFMiddleware enforces double-submit protection on state-changing requests
// that authenticate with the session cookie. Bearer requests are exempt.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if csrfSafeMethods[c.Request.Method] || s.usesBearer(c) {
			c.Next()
			return
		}
		if err := s.checkCSRF(c); err != nil {
			log.Printf("[auth] csrf rejected %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "invalid csrf token"})
			return
		}
		c.Next()
	}
}

// usesBearer prefers the source recorded by Middleware and falls back to the
// header when the route is mounted without it.
func (s *Service) usesBearer(c *gin.Context) bool {
	if source, ok := c.Get(tokenSourceContextKey); ok {
		return source == tokenFromBearer
	}
	_, ok := bearerToken(c.GetHeader(s.headerName))
	return ok
}

func (s *Service) checkCSRF(c *gin.Context) error {
	cookieToken, err := c.Cookie(s.csrfCookieName)
	if err != nil || cookieToken == "" {
		return errCSRFCookieMissing
	}
	headerToken := c.GetHeader(s.csrfHeaderName)
	if headerToken == "" {
		return errCSRFHeaderMissing
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return errCSRFMismatch
	}
	return nil
}
