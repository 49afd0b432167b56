package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status, dbState := http.StatusOK, "ok"
	if h.db == nil {
		status, dbState = http.StatusServiceUnavailable, "unavailable"
	} else if err := h.db.PingContext(ctx); err != nil {
		log.Printf("[api] %s health: database ping failed: %v", RequestIDFromContext(c), err)
		status, dbState = http.StatusServiceUnavailable, "unavailable"
	}

	cacheState := "disabled"
	if h.cache.Enabled() {
		cacheState = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			log.Printf("[api] %s health: redis ping failed: %v", RequestIDFromContext(c), err)
			cacheState = "unavailable"
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	body := gin.H{
		"status":   overall,
		"database": dbState,
		"cache":    cacheState,
	}
	if h.workers != nil {
		body["workers"] = h.workers.Stats()
	}
	c.JSON(status, body)
}
