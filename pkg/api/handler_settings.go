package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/config"
)

type updateSettingsRequest struct {
	Updates map[string]string `json:"updates" binding:"required"`
}

// maskSecret hides all but a short prefix of a credential value.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 6 {
		return "******"
	}
	return v[:6] + "******"
}

// getSettingsHandler handles GET /api/settings: the persisted runtime
// overlay with the API key masked.
func (s *Server) getSettingsHandler(c *gin.Context) {
	overlay := config.LoadRuntimeEnv(s.deps.Settings.DataDir)
	if key, ok := overlay["OPENAI_API_KEY"]; ok {
		overlay["OPENAI_API_KEY"] = maskSecret(key)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runtime_env": overlay})
}

// updateSettingsHandler handles POST /api/settings: persists allow-listed
// runtime env updates and applies them to the process. Non-allow-listed
// keys are silently dropped.
func (s *Server) updateSettingsHandler(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := config.UpdateRuntimeEnv(s.deps.Settings.DataDir, req.Updates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
