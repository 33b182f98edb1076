package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
)

type recipeUpsertRequest struct {
	Name        string `json:"name" binding:"required"`
	Goal        string `json:"goal" binding:"required"`
	WorkspaceID string `json:"workspace_id"`
	SkillID     string `json:"skill_id"`
	Mode        string `json:"mode"`
}

// listRecipesHandler handles GET /api/recipes.
func (s *Server) listRecipesHandler(c *gin.Context) {
	recipes, err := s.deps.Recipes.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipes)
}

// createRecipeHandler handles POST /api/recipes.
func (s *Server) createRecipeHandler(c *gin.Context) {
	var req recipeUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := s.deps.Recipes.Create(c.Request.Context(), &models.Recipe{
		Name:        strings.TrimSpace(req.Name),
		Goal:        req.Goal,
		WorkspaceID: req.WorkspaceID,
		SkillID:     req.SkillID,
		Mode:        req.Mode,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": r.ID})
}

// updateRecipeHandler handles POST /api/recipes/:id.
func (s *Server) updateRecipeHandler(c *gin.Context) {
	var req recipeUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := s.deps.Recipes.Update(c.Request.Context(), &models.Recipe{
		ID:          c.Param("id"),
		Name:        strings.TrimSpace(req.Name),
		Goal:        req.Goal,
		WorkspaceID: req.WorkspaceID,
		SkillID:     req.SkillID,
		Mode:        req.Mode,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": r.ID})
}

// deleteRecipeHandler handles DELETE /api/recipes/:id.
func (s *Server) deleteRecipeHandler(c *gin.Context) {
	if err := s.deps.Recipes.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
