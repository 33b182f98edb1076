package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/scheduler"
)

type createScheduleRequest struct {
	Name        string          `json:"name" binding:"required"`
	CronExpr    string          `json:"cron_expr" binding:"required"`
	WorkspaceID string          `json:"workspace_id" binding:"required"`
	SkillID     string          `json:"skill_id" binding:"required"`
	Mode        string          `json:"mode"`
	Enabled     bool            `json:"enabled"`
	Payload     json.RawMessage `json:"payload"`
}

// listSchedulesHandler handles GET /api/schedules.
func (s *Server) listSchedulesHandler(c *gin.Context) {
	schedules, err := s.deps.Schedules.List(c.Request.Context(), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

// createScheduleHandler handles POST /api/schedules. The cron expression
// is validated up front so a bad schedule fails loudly here instead of
// being silently disabled by the first tick.
func (s *Server) createScheduleHandler(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := scheduler.ParseCron(req.CronExpr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = "fast"
	}
	sch, err := s.deps.Schedules.Create(c.Request.Context(), &models.Schedule{
		Name:        strings.TrimSpace(req.Name),
		CronExpr:    strings.TrimSpace(req.CronExpr),
		WorkspaceID: req.WorkspaceID,
		SkillID:     req.SkillID,
		Mode:        mode,
		Enabled:     req.Enabled,
		Payload:     req.Payload,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": sch.ID})
}

// setScheduleEnabledHandler handles POST /api/schedules/:id/enabled.
func (s *Server) setScheduleEnabledHandler(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Schedules.SetEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": c.Param("id"), "enabled": req.Enabled})
}

// deleteScheduleHandler handles DELETE /api/schedules/:id.
func (s *Server) deleteScheduleHandler(c *gin.Context) {
	if err := s.deps.Schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
