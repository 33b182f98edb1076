package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/models"
)

// defaultWorkspaceCookie remembers the caller's last auto-task workspace.
const defaultWorkspaceCookie = "default_workspace_id"

const cookieMaxAge = 3600 * 24 * 365

type createTaskRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	SkillID     string `json:"skill_id" binding:"required"`
	Goal        string `json:"goal" binding:"required"`
	Mode        string `json:"mode"`
	Backend     string `json:"backend"`
}

type autoCreateTaskRequest struct {
	Goal        string `json:"goal" binding:"required"`
	Mode        string `json:"mode"`
	WorkspaceID string `json:"workspace_id"`
	Hint        string `json:"hint"`
	Backend     string `json:"backend"`
}

type continueTaskRequest struct {
	Message string `json:"message" binding:"required"`
}

type approveStepRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason"`
}

func parseBackend(raw string) models.Backend {
	if models.Backend(strings.ToLower(strings.TrimSpace(raw))) == models.BackendAgent {
		return models.BackendAgent
	}
	return models.BackendClassic
}

// createTaskHandler handles POST /api/tasks: creates and immediately
// launches a task. Mode falls back to the skill's default.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	skill, err := s.deps.Skills.Get(ctx, req.SkillID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = skill.DefaultMode
	}

	task, err := s.deps.Tasks.Create(ctx, req.WorkspaceID, req.SkillID, req.Goal, mode, parseBackend(req.Backend))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := s.deps.Engine.Launch(ctx, task.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task_id": task.ID})
}

// autoCreateTaskHandler handles POST /api/tasks/auto: picks the workspace
// (explicit > cookie default > first) and lets the skill router choose the
// skill from the goal.
func (s *Server) autoCreateTaskHandler(c *gin.Context) {
	var req autoCreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal required"})
		return
	}

	workspaces, err := s.deps.Workspaces.List(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(workspaces) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no workspaces available"})
		return
	}
	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		if cookie, err := c.Cookie(defaultWorkspaceCookie); err == nil && cookie != "" {
			workspaceID = cookie
		}
	}
	known := false
	for _, ws := range workspaces {
		if ws.ID == workspaceID {
			known = true
			break
		}
	}
	if !known {
		workspaceID = workspaces[0].ID
	}

	skills, err := s.deps.Skills.List(ctx, true)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if len(skills) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no skills available"})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = "fast"
	}
	skillID, err := s.deps.SkillRouter.ChooseSkill(ctx, goal, skills, req.Hint, mode)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// Mode priority: request > skill default > fast.
	if req.Mode == "" {
		for _, sk := range skills {
			if sk.ID == skillID && sk.DefaultMode != "" {
				mode = sk.DefaultMode
				break
			}
		}
	}
	if mode != "fast" && mode != "pro" {
		mode = "fast"
	}

	task, err := s.deps.Tasks.Create(ctx, workspaceID, skillID, goal, mode, parseBackend(req.Backend))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := s.deps.Engine.Launch(ctx, task.ID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.SetCookie(defaultWorkspaceCookie, workspaceID, cookieMaxAge, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"task_id":      task.ID,
		"workspace_id": workspaceID,
		"skill_id":     skillID,
		"mode":         mode,
	})
}

// listTasksHandler handles GET /api/tasks.
func (s *Server) listTasksHandler(c *gin.Context) {
	tasks, err := s.deps.Tasks.List(c.Request.Context(), 200)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// getTaskHandler handles GET /api/tasks/:id: the task with its steps and
// approval history.
func (s *Server) getTaskHandler(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("id")

	task, err := s.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	steps, err := s.deps.Steps.ListByTask(ctx, taskID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	approvals, err := s.deps.Approvals.ListByTask(ctx, taskID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": task, "steps": steps, "approvals": approvals})
}

// deleteTaskHandler handles DELETE /api/tasks/:id. Deleting a missing task
// is a no-op success; generated outputs and artifacts are removed
// best-effort, user workspace files stay.
func (s *Server) deleteTaskHandler(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("id")

	task, err := s.deps.Tasks.Get(ctx, taskID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	workspacePath := ""
	if ws, err := s.deps.Workspaces.Get(ctx, task.WorkspaceID); err == nil {
		workspacePath = ws.Path
	}
	if err := s.deps.Tasks.Delete(ctx, taskID, workspacePath); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// startTaskHandler handles POST /api/tasks/:id/start.
func (s *Server) startTaskHandler(c *gin.Context) {
	if err := s.deps.Engine.Launch(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// cancelTaskHandler handles POST /api/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *gin.Context) {
	if err := s.deps.Engine.Cancel(c.Request.Context(), c.Param("id"), ""); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// continueTaskHandler handles POST /api/tasks/:id/continue: records the
// user message and either resolves a pending approval or resumes an
// agent-backend conversation.
func (s *Server) continueTaskHandler(c *gin.Context) {
	var req continueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	if err := s.deps.Engine.Continue(c.Request.Context(), c.Param("id"), msg); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// approveStepHandler handles POST /api/tasks/:id/approve/:step_id.
func (s *Server) approveStepHandler(c *gin.Context) {
	var req approveStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != "approve" && decision != "reject" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approve or reject"})
		return
	}

	if err := s.deps.Engine.Approve(c.Request.Context(), c.Param("id"), c.Param("step_id"), decision, req.Reason); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
