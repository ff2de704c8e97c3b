package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health returns a handler for GET /health. It reports liveness only —
// browser and cache health are surfaced through scan failures, not polled
// separately.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
