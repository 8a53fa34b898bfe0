package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck returns server health status.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matchcore",
		"version": version,
		"uptime":  time.Since(startTime).String(),
	})
}

// Status is a plain-text liveness probe distinct from the structured
// /health payload above.
func Status(c *gin.Context) {
	c.String(http.StatusOK, "Server running\n")
}
