package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/version"
)

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.deps.DB.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":       false,
			"app":      s.deps.Settings.AppName,
			"version":  version.Full(),
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"app":      s.deps.Settings.AppName,
		"version":  version.Full(),
		"database": dbHealth,
		"time":     time.Now().UTC(),
	})
}
