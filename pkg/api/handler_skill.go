package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
)

type createSkillRequest struct {
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt" binding:"required"`
	AllowedTools []string `json:"allowed_tools"`
	DefaultMode  string   `json:"default_mode"`
}

type importSkillRequest struct {
	Path string `json:"path" binding:"required"`
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// listSkillsHandler handles GET /api/skills.
func (s *Server) listSkillsHandler(c *gin.Context) {
	skills, err := s.deps.Skills.List(c.Request.Context(), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, skills)
}

// createSkillHandler handles POST /api/skills.
func (s *Server) createSkillHandler(c *gin.Context) {
	var req createSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := req.DefaultMode
	if mode == "" {
		mode = "fast"
	}
	sk, err := s.deps.Skills.Create(c.Request.Context(), &models.Skill{
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		AllowedTools: req.AllowedTools,
		DefaultMode:  mode,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "skill": sk})
}

// importSkillHandler handles POST /api/skills/import: loads a skill
// definition file with YAML frontmatter.
func (s *Server) importSkillHandler(c *gin.Context) {
	var req importSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sk, err := s.deps.Skills.ImportFile(c.Request.Context(), req.Path)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "skill": sk})
}

// setSkillEnabledHandler handles POST /api/skills/:id/enabled.
func (s *Server) setSkillEnabledHandler(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Skills.SetEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "skill_id": c.Param("id"), "enabled": req.Enabled})
}

// reloadSkillHandler handles POST /api/skills/:id/reload: re-reads the
// skill's source file and updates the row in place.
func (s *Server) reloadSkillHandler(c *gin.Context) {
	sk, err := s.deps.Skills.Reload(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "skill": sk})
}

// deleteSkillHandler handles DELETE /api/skills/:id.
func (s *Server) deleteSkillHandler(c *gin.Context) {
	if err := s.deps.Skills.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
