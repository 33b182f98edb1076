// Package api exposes the HTTP surface: REST handlers, the SSE stream, and
// the WebSocket live stream.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agentworkbench/workbench/pkg/agent"
	"github.com/agentworkbench/workbench/pkg/config"
	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/mcp"
	"github.com/agentworkbench/workbench/pkg/services"
)

// Deps carries everything the handlers reach for. All fields are required
// unless noted.
type Deps struct {
	Settings *config.Settings
	DB       *database.Client

	Workspaces *services.WorkspaceService
	Skills     *services.SkillService
	Tasks      *services.TaskService
	Steps      *services.StepService
	Approvals  *services.ApprovalService
	Events     *services.EventService
	Schedules  *services.ScheduleService
	Policies   *services.PolicyService
	MCPServers *services.MCPServerService
	Recipes    *services.RecipeService

	Engine      *agent.Engine
	SkillRouter *agent.SkillRouter
	Bus         *events.Bus
	ConnManager *events.ConnectionManager
	MCP         *mcp.Client

	AdminToken string
}

// Server is the HTTP API server.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Routes builds the gin engine with all routes registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	admin := s.requireAdmin()

	api := r.Group("/api")
	{
		api.GET("/health", s.healthHandler)

		api.GET("/events", s.globalEventsHandler)
		api.GET("/ws", s.websocketHandler)

		api.GET("/workspaces", s.listWorkspacesHandler)
		api.POST("/workspaces", admin, s.createWorkspaceHandler)
		api.DELETE("/workspaces/:id", admin, s.deleteWorkspaceHandler)

		api.GET("/skills", s.listSkillsHandler)
		api.POST("/skills", admin, s.createSkillHandler)
		api.POST("/skills/import", admin, s.importSkillHandler)
		api.POST("/skills/:id/enabled", admin, s.setSkillEnabledHandler)
		api.POST("/skills/:id/reload", admin, s.reloadSkillHandler)
		api.DELETE("/skills/:id", admin, s.deleteSkillHandler)

		api.GET("/tasks", s.listTasksHandler)
		api.POST("/tasks", admin, s.createTaskHandler)
		api.POST("/tasks/auto", admin, s.autoCreateTaskHandler)
		api.GET("/tasks/:id", s.getTaskHandler)
		api.DELETE("/tasks/:id", admin, s.deleteTaskHandler)
		api.POST("/tasks/:id/start", admin, s.startTaskHandler)
		api.POST("/tasks/:id/cancel", admin, s.cancelTaskHandler)
		api.POST("/tasks/:id/continue", admin, s.continueTaskHandler)
		api.POST("/tasks/:id/approve/:step_id", admin, s.approveStepHandler)
		api.GET("/tasks/:id/events", s.taskEventsHandler)
		api.GET("/tasks/:id/files", admin, s.listTaskFilesHandler)
		api.GET("/tasks/:id/files/raw/:file_id", admin, s.rawTaskFileHandler)
		api.POST("/tasks/:id/files/open", admin, s.openTaskFileHandler)

		api.GET("/schedules", s.listSchedulesHandler)
		api.POST("/schedules", admin, s.createScheduleHandler)
		api.POST("/schedules/:id/enabled", admin, s.setScheduleEnabledHandler)
		api.DELETE("/schedules/:id", admin, s.deleteScheduleHandler)

		api.GET("/workspace_policies", s.getWorkspacePoliciesHandler)
		api.POST("/workspace_policies", admin, s.setWorkspacePoliciesHandler)

		api.GET("/mcp_servers", s.listMCPServersHandler)
		api.POST("/mcp_servers", admin, s.createMCPServerHandler)
		api.POST("/mcp_servers/:id", admin, s.updateMCPServerHandler)
		api.DELETE("/mcp_servers/:id", admin, s.deleteMCPServerHandler)
		api.POST("/mcp_servers/:id/health", admin, s.mcpServerHealthHandler)

		api.GET("/recipes", s.listRecipesHandler)
		api.POST("/recipes", admin, s.createRecipeHandler)
		api.POST("/recipes/:id", admin, s.updateRecipeHandler)
		api.DELETE("/recipes/:id", admin, s.deleteRecipeHandler)

		api.GET("/settings", admin, s.getSettingsHandler)
		api.POST("/settings", admin, s.updateSettingsHandler)
	}

	return r
}
