package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/mcp"
	"github.com/agentworkbench/workbench/pkg/models"
)

type mcpServerUpsertRequest struct {
	Name            string            `json:"name" binding:"required"`
	Command         string            `json:"command" binding:"required"`
	Args            []string          `json:"args"`
	Env             map[string]string `json:"env"`
	HealthcheckArgs []string          `json:"healthcheck_args"`
	Enabled         bool              `json:"enabled"`
}

// listMCPServersHandler handles GET /api/mcp_servers.
func (s *Server) listMCPServersHandler(c *gin.Context) {
	servers, err := s.deps.MCPServers.List(c.Request.Context(), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"servers":        servers,
		"failed_servers": s.deps.MCP.FailedServers(),
	})
}

// createMCPServerHandler handles POST /api/mcp_servers. New servers take
// effect on restart; health can be probed immediately.
func (s *Server) createMCPServerHandler(c *gin.Context) {
	var req mcpServerUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv, err := s.deps.MCPServers.Create(c.Request.Context(), &models.MCPServer{
		Name:            strings.TrimSpace(req.Name),
		Command:         strings.TrimSpace(req.Command),
		Args:            req.Args,
		Env:             req.Env,
		HealthcheckArgs: req.HealthcheckArgs,
		Enabled:         req.Enabled,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": srv.ID})
}

// updateMCPServerHandler handles POST /api/mcp_servers/:id.
func (s *Server) updateMCPServerHandler(c *gin.Context) {
	var req mcpServerUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv, err := s.deps.MCPServers.Update(c.Request.Context(), &models.MCPServer{
		ID:              c.Param("id"),
		Name:            strings.TrimSpace(req.Name),
		Command:         strings.TrimSpace(req.Command),
		Args:            req.Args,
		Env:             req.Env,
		HealthcheckArgs: req.HealthcheckArgs,
		Enabled:         req.Enabled,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": srv.ID})
}

// deleteMCPServerHandler handles DELETE /api/mcp_servers/:id.
func (s *Server) deleteMCPServerHandler(c *gin.Context) {
	if err := s.deps.MCPServers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// mcpServerHealthHandler handles POST /api/mcp_servers/:id/health: runs
// the server command with its healthcheck args and reports the outcome.
func (s *Server) mcpServerHealthHandler(c *gin.Context) {
	srv, err := s.deps.MCPServers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, mcp.Healthcheck(c.Request.Context(), srv))
}
