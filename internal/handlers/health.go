package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports Mongo and Redis reachability. Only Mongo decides the status
// code; the API degrades to uncached reads without Redis.
func Health(d *Deps, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		mongoStatus := "up"
		if err := ensureDBConnection(ctx, d.DB); err != nil {
			mongoStatus = "down"
		}
		redisStatus := "up"
		if err := d.Cache.Ping(ctx); err != nil {
			redisStatus = "down"
		}

		status, code := "ok", http.StatusOK
		if mongoStatus != "up" {
			status, code = "unavailable", http.StatusServiceUnavailable
		} else if redisStatus != "up" {
			status = "degraded"
		}

		c.JSON(code, gin.H{
			"status": status,
			"mongo":  mongoStatus,
			"redis":  redisStatus,
			"uptime": d.now().Sub(started).Round(time.Second).String(),
		})
	}
}
