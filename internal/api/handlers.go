package api

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulse/internal/auth"
	"pulse/internal/redis"
	"pulse/internal/service/account"
	"pulse/internal/service/analysis"
	"pulse/internal/worker"
)

// WorkerPool is the part of the analysis dispatcher the routes touch.
type WorkerPool interface {
	CancelUser(userID int64)
	Stats() worker.Stats
}

// Handler wires HTTP routes to the account and analysis services.
type Handler struct {
	accounts *account.Service
	auth     *auth.Service
	analysis *analysis.Service
	workers  WorkerPool
	db       *sql.DB
	cache    *redis.Client
}

// NewHandler constructs a Handler instance. workers and cache may be nil.
func NewHandler(accounts *account.Service, authService *auth.Service, analysisService *analysis.Service, workers WorkerPool, db *sql.DB, cache *redis.Client) *Handler {
	return &Handler{
		accounts: accounts,
		auth:     authService,
		analysis: analysisService,
		workers:  workers,
		db:       db,
		cache:    cache,
	}
}

// NewRouter builds the gin engine with logging, recovery and request ids.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), gin.Logger(), gin.Recovery())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.POST("/auth/register", h.registerUser)
	router.POST("/auth/login", h.loginUser)

	authed := router.Group("/")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/auth/logout", h.logoutUser)
	authed.GET("/auth/me", h.currentUser)
	authed.DELETE("/auth/me", h.deleteUser)

	authed.POST("/analysis", h.createAnalysis)
	authed.GET("/history", h.listHistory)
	authed.GET("/analysis/:id", h.getAnalysis)
	authed.DELETE("/analysis/:id", h.deleteAnalysis)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "authorization required"})
		return 0, false
	}
	return userID, true
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request body"})
		return
	}
	user, err := h.accounts.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"msg": "email already registered"})
		case errors.Is(err, account.ErrInvalidInput), errors.Is(err, account.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		default:
			log.Printf("[api] %s register failed: %v", RequestIDFromContext(c), err)
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "could not create account"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"name":       user.Name,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "invalid credentials"})
			return
		}
		log.Printf("[api] %s login failed: %v", RequestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "login failed"})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		log.Printf("[api] %s issue token failed: %v", RequestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
		"token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	token, _ := auth.AuthTokenFromContext(c)
	if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
		log.Printf("[api] %s logout failed: %v", RequestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "logout failed"})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.accounts.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "user not found"})
			return
		}
		log.Printf("[api] %s load user failed: %v", RequestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "could not load user"})
		return
	}
	count, err := h.analysis.Count(c.Request.Context(), userID)
	if err != nil {
		log.Printf("[api] %s count analyses failed: %v", RequestIDFromContext(c), err)
		count = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"created_at":     user.CreatedAt,
		"analysis_count": count,
	})
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), userID); err != nil {
		log.Printf("[api] %s revoke tokens failed: %v", RequestIDFromContext(c), err)
	}
	// queued analyses would otherwise run and write records for a gone user
	if h.workers != nil {
		h.workers.CancelUser(userID)
	}
	if err := h.accounts.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"msg": "user not found"})
			return
		}
		log.Printf("[api] %s delete user failed: %v", RequestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "could not delete account"})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}
