package api

import (
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

type createWorkspaceRequest struct {
	Name string `json:"name" binding:"required"`
	Path string `json:"path"`
}

var slugNonWord = regexp.MustCompile(`[^a-z0-9]+`)

// slugify reduces a display name to a directory-safe slug.
func slugify(name string) string {
	s := slugNonWord.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "workspace"
	}
	return s
}

// listWorkspacesHandler handles GET /api/workspaces.
func (s *Server) listWorkspacesHandler(c *gin.Context) {
	workspaces, err := s.deps.Workspaces.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, workspaces)
}

// createWorkspaceHandler handles POST /api/workspaces. A missing path
// defaults to a slug directory under the workspaces root.
func (s *Server) createWorkspaceHandler(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	path := strings.TrimSpace(req.Path)
	if path == "" {
		path = filepath.Join(s.deps.Settings.WorkspacesDir, slugify(name))
	}

	ws, err := s.deps.Workspaces.Create(c.Request.Context(), name, path)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "workspace": ws})
}

// deleteWorkspaceHandler handles DELETE /api/workspaces/:id.
func (s *Server) deleteWorkspaceHandler(c *gin.Context) {
	if err := s.deps.Workspaces.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
