package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
)

var availableScopes = []models.Scope{
	models.ScopeShell, models.ScopeFSRead, models.ScopeFSWrite,
	models.ScopeFSDelete, models.ScopeBrowserClick, models.ScopeNetwork,
	models.ScopeMCP, models.ScopeOther,
}

var availablePolicies = []models.PolicyKind{
	models.PolicyAskOnce, models.PolicyAlwaysAllow, models.PolicyAlwaysDeny,
}

type setPoliciesRequest struct {
	WorkspaceID string                             `json:"workspace_id" binding:"required"`
	Policies    map[models.Scope]models.PolicyKind `json:"policies" binding:"required"`
}

func validScope(s models.Scope) bool {
	for _, v := range availableScopes {
		if v == s {
			return true
		}
	}
	return false
}

func validPolicy(p models.PolicyKind) bool {
	for _, v := range availablePolicies {
		if v == p {
			return true
		}
	}
	return false
}

// resolvedPolicies returns the effective policy per scope, with defaults
// filled in for scopes the workspace never configured.
func (s *Server) resolvedPolicies(c *gin.Context, workspaceID string) (map[models.Scope]models.PolicyKind, error) {
	out := make(map[models.Scope]models.PolicyKind, len(availableScopes))
	for _, scope := range availableScopes {
		kind, err := s.deps.Policies.Get(c.Request.Context(), workspaceID, scope)
		if err != nil {
			return nil, err
		}
		out[scope] = kind
	}
	return out, nil
}

// getWorkspacePoliciesHandler handles GET /api/workspace_policies?workspace_id=.
func (s *Server) getWorkspacePoliciesHandler(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id required"})
		return
	}

	policies, err := s.resolvedPolicies(c, workspaceID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"workspace_id":       workspaceID,
		"policies":           policies,
		"available_scopes":   availableScopes,
		"available_policies": availablePolicies,
	})
}

// setWorkspacePoliciesHandler handles POST /api/workspace_policies.
// Unknown scopes and policy kinds are skipped rather than rejected.
func (s *Server) setWorkspacePoliciesHandler(c *gin.Context) {
	var req setPoliciesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	if _, err := s.deps.Workspaces.Get(ctx, req.WorkspaceID); err != nil {
		respondServiceError(c, err)
		return
	}

	for scope, kind := range req.Policies {
		if !validScope(scope) || !validPolicy(kind) {
			continue
		}
		if err := s.deps.Policies.Set(ctx, req.WorkspaceID, scope, kind); err != nil {
			respondServiceError(c, err)
			return
		}
	}

	policies, err := s.resolvedPolicies(c, req.WorkspaceID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "workspace_id": req.WorkspaceID, "policies": policies})
}
