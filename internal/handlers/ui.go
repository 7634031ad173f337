package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Home describes the API at the root path.
func Home(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "storefront",
			"version": version,
			"api":     "/api/v1",
			"health":  "/health",
		})
	}
}
