package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ShellOptions configures the shell.exec tool.
type ShellOptions struct {
	// Allow gates the tool entirely; when false the handler refuses to run.
	Allow bool
	// DockerImage, when set, wraps the command in `docker run` with the
	// workspace mounted at /workspace.
	DockerImage string
	// Timeout bounds one command. Zero means the 120s default.
	Timeout time.Duration
}

const defaultShellTimeout = 120 * time.Second

// maxCapturedOutput bounds captured stdout/stderr per stream.
const maxCapturedOutput = 64 * 1024

// RegisterShellTool adds shell.exec.
func RegisterShellTool(r *Registry, opts ShellOptions) error {
	return r.Register(Spec{
		Name:        "shell.exec",
		Description: "Run a shell command in the workspace directory and capture its output.",
		InputSchema: objectSchema(map[string]any{
			"cmd": map[string]any{"type": "string"},
			"cwd": map[string]any{"type": "string"},
		}, []string{"cmd"}),
		Risky: true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return runShell(ctx, opts, args)
		},
	})
}

func runShell(ctx context.Context, opts ShellOptions, args json.RawMessage) (any, error) {
	if !opts.Allow {
		return nil, fmt.Errorf("shell.exec is disabled (set SHELL_ALLOW=1 to enable)")
	}

	var a struct {
		Cmd string `json:"cmd"`
		Cwd string `json:"cwd"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Cmd == "" {
		return nil, fmt.Errorf("cmd is required")
	}

	dir := ""
	if rc, ok := RunContextFrom(ctx); ok {
		dir = rc.WorkspaceRoot
	}
	if a.Cwd != "" {
		resolved, err := resolveWorkspacePath(ctx, a.Cwd)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if opts.DockerImage != "" {
		cmd = exec.CommandContext(runCtx, "docker", "run", "--rm",
			"-v", dir+":/workspace", "-w", "/workspace",
			opts.DockerImage, "sh", "-c", a.Cmd)
	} else {
		cmd = exec.CommandContext(runCtx, shellBinary(), shellFlag(), a.Cmd)
		cmd.Dir = dir
	}
	cmd.SysProcAttr = spawnAttrs()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to run command: %w", err)
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}

	return map[string]any{
		"exit_code": exitCode,
		"stdout":    clip(stdout.String(), maxCapturedOutput),
		"stderr":    clip(stderr.String(), maxCapturedOutput),
	}, nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
