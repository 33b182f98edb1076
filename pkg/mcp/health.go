package mcp

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/tools"
)

// healthcheckTimeout bounds one probe run.
const healthcheckTimeout = 5 * time.Second

// outputClip bounds captured stdout/stderr in the health report.
const outputClip = 4000

// HealthResult is the outcome of probing a server command.
type HealthResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

// Healthcheck runs the server command with its healthcheck args (default
// --version) and reports exit code and captured output. It never starts an
// MCP session; the probe only verifies the binary launches.
func Healthcheck(ctx context.Context, srv *models.MCPServer) HealthResult {
	args := srv.HealthcheckArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}

	runCtx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, srv.Command, args...)
	env := os.Environ()
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	tools.ConfigureChild(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := HealthResult{
		OK:     err == nil,
		Stdout: clipOutput(stdout.String()),
		Stderr: clipOutput(stderr.String()),
	}
	if err != nil {
		result.Error = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}
	return result
}

func clipOutput(s string) string {
	if len(s) > outputClip {
		return s[:outputClip]
	}
	return s
}
