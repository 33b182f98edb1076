// Workbench orchestrator server — provides the HTTP API, runs queue
// workers, and drives task execution.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/agentworkbench/workbench/pkg/agent"
	"github.com/agentworkbench/workbench/pkg/agent/loop"
	"github.com/agentworkbench/workbench/pkg/api"
	"github.com/agentworkbench/workbench/pkg/config"
	"github.com/agentworkbench/workbench/pkg/database"
	"github.com/agentworkbench/workbench/pkg/events"
	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/mcp"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/policy"
	"github.com/agentworkbench/workbench/pkg/queue"
	"github.com/agentworkbench/workbench/pkg/scheduler"
	"github.com/agentworkbench/workbench/pkg/services"
	"github.com/agentworkbench/workbench/pkg/tools"
	"github.com/agentworkbench/workbench/pkg/version"
)

// scheduledStarter materializes due schedules into launched tasks.
type scheduledStarter struct {
	tasks  *services.TaskService
	engine *agent.Engine
}

func (s *scheduledStarter) StartScheduled(ctx context.Context, workspaceID, skillID, goal, mode string) (string, error) {
	task, err := s.tasks.Create(ctx, workspaceID, skillID, goal, mode, models.BackendClassic)
	if err != nil {
		return "", err
	}
	if err := s.engine.Launch(ctx, task.ID); err != nil {
		return "", err
	}
	return task.ID, nil
}

func main() {
	envFile := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	// 1. Environment: .env first, then the persisted runtime overlay on top.
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}
	boot, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.ApplyRuntimeEnv(boot.DataDir)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	adminToken, err := config.EnsureAdminToken(cfg.DataDir, cfg.UIAdminToken)
	if err != nil {
		slog.Error("Failed to establish admin token", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting workbench",
		"version", version.Full(),
		"addr", cfg.Addr(),
		"data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Database (runs migrations on open).
	dbClient, err := database.NewClient(ctx, database.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()

	// 3. Event infrastructure.
	bus := events.NewBus()
	publisher := events.NewPublisher(dbClient, bus)
	eventService := services.NewEventService(dbClient)
	connManager := events.NewConnectionManager(eventService, 10*time.Second)
	go connManager.Run(ctx, bus)

	// 4. Domain services.
	workspaceService := services.NewWorkspaceService(dbClient)
	skillService := services.NewSkillService(dbClient)
	taskService := services.NewTaskService(dbClient, publisher, cfg.ArtifactsDir)
	stepService := services.NewStepService(dbClient, publisher)
	approvalService := services.NewApprovalService(dbClient, publisher)
	scheduleService := services.NewScheduleService(dbClient)
	policyService := services.NewPolicyService(dbClient)
	mcpServerService := services.NewMCPServerService(dbClient)
	recipeService := services.NewRecipeService(dbClient)

	// 5. Tool registry: built-ins plus adopted MCP tools.
	registry := tools.NewRegistry()
	if err := tools.RegisterFilesystemTools(registry); err != nil {
		slog.Error("Failed to register filesystem tools", "error", err)
		os.Exit(1)
	}
	if err := tools.RegisterShellTool(registry, tools.ShellOptions{
		Allow:       cfg.ShellAllow,
		DockerImage: cfg.ShellDockerImage,
	}); err != nil {
		slog.Error("Failed to register shell tool", "error", err)
		os.Exit(1)
	}
	if err := tools.RegisterWebTools(registry); err != nil {
		slog.Error("Failed to register web tools", "error", err)
		os.Exit(1)
	}

	mcpClient := mcp.NewClient()
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Error("Error closing MCP sessions", "error", err)
		}
	}()
	if servers, err := mcpServerService.List(ctx, true); err != nil {
		slog.Error("Failed to list MCP servers", "error", err)
	} else if len(servers) > 0 {
		// Server rows are user data; connect failures degrade, never abort.
		mcpClient.Connect(ctx, servers)
		adopted, err := mcpClient.Adopt(ctx, registry)
		if err != nil {
			slog.Error("Failed to adopt MCP tools", "error", err)
		}
		slog.Info("MCP servers connected",
			"configured", len(servers),
			"failed", len(mcpClient.FailedServers()),
			"tools_adopted", adopted)
	}

	// 6. LLM provider and agent roles.
	provider := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	modelSet := agent.Models{Fast: cfg.ModelFast, Pro: cfg.ModelPro}
	opts := agent.Options{
		Models: modelSet,
		Approvals: agent.ApprovalDefaults{
			Shell:        cfg.RequireApprovalShell,
			FSWrite:      cfg.RequireApprovalFSWrite,
			FSDelete:     cfg.RequireApprovalFSDelete,
			BrowserClick: cfg.RequireApprovalBrowserClick,
		},
		ArtifactsDir:     cfg.ArtifactsDir,
		PlaceholderedKey: cfg.APIKeyIsPlaceholder(),
	}
	planner := agent.NewPlanner(provider, registry, modelSet)
	executor := agent.NewExecutor(provider, registry, modelSet)
	critic := agent.NewCritic(provider, modelSet)
	skillRouter := agent.NewSkillRouter(provider, modelSet, cfg.APIKeyIsPlaceholder())

	policyEngine := policy.NewEngine(policyService, policy.NewGrants())

	// 7. Worker pool. A recovered panic marks the task failed so it does
	// not stay running forever.
	pool := queue.NewPool(4, 64, func(taskID, msg string) {
		status := models.TaskFailed
		if _, err := taskService.Update(context.Background(), taskID, services.TaskUpdate{
			Status: &status,
			Error:  &msg,
		}); err != nil {
			slog.Error("Failed to mark panicked task failed", "task_id", taskID, "error", err)
		}
	})
	pool.Start(ctx)

	// 8. Engines.
	engine := agent.NewEngine(
		taskService, stepService, approvalService, workspaceService, skillService,
		publisher, policyEngine, registry,
		planner, executor, critic,
		pool, opts,
	)
	runner := loop.NewRunner(
		taskService, stepService, approvalService, workspaceService, skillService,
		eventService, publisher, policyEngine, registry, provider, opts,
	)
	engine.SetLoopBackend(runner)

	// 9. Relaunch tasks stranded by a previous process.
	if err := queue.SweepOrphans(ctx, taskService, engine.Launch); err != nil {
		slog.Error("Orphan sweep failed", "error", err)
	}

	// 10. Scheduler.
	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(scheduleService,
			&scheduledStarter{tasks: taskService, engine: engine},
			cfg.SchedulerTickInterval)
		sched.Start(ctx)
		slog.Info("Scheduler started", "interval", cfg.SchedulerTickInterval)
	}

	// 11. HTTP server.
	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Deps{
		Settings:    cfg,
		DB:          dbClient,
		Workspaces:  workspaceService,
		Skills:      skillService,
		Tasks:       taskService,
		Steps:       stepService,
		Approvals:   approvalService,
		Events:      eventService,
		Schedules:   scheduleService,
		Policies:    policyService,
		MCPServers:  mcpServerService,
		Recipes:     recipeService,
		Engine:      engine,
		SkillRouter: skillRouter,
		Bus:         bus,
		ConnManager: connManager,
		MCP:         mcpClient,
		AdminToken:  adminToken,
	})
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: scheduler, then workers, then HTTP.
	if sched != nil {
		sched.Stop()
		slog.Info("Scheduler stopped")
	}

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Worker pool shutdown timeout exceeded; tasks will be orphan-recovered")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
