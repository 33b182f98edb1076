// Package mcp connects to user-managed MCP servers over stdio and adopts
// their tools into the registry under the mcp/<server>/<tool> namespace.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/tools"
	"github.com/agentworkbench/workbench/pkg/version"
)

// InitTimeout bounds one server connect + handshake.
const InitTimeout = 10 * time.Second

// OperationTimeout bounds one list/call round trip.
const OperationTimeout = 60 * time.Second

// Client manages stdio sessions for the configured MCP servers.
// Thread-safe; sessions are shared across concurrent task workers.
type Client struct {
	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession // server name → session
	failedServers map[string]string                // server name → error message
}

// NewClient creates an empty Client.
func NewClient() *Client {
	return &Client{
		sessions:      make(map[string]*mcpsdk.ClientSession),
		failedServers: make(map[string]string),
	}
}

// Connect dials every given server. Failures are recorded, logged, and
// non-fatal: server rows are user data, not deploy config.
func (c *Client) Connect(ctx context.Context, servers []*models.MCPServer) {
	for _, srv := range servers {
		if err := c.connectServer(ctx, srv); err != nil {
			c.mu.Lock()
			c.failedServers[srv.Name] = err.Error()
			c.mu.Unlock()
			slog.Warn("MCP server failed to connect", "server", srv.Name, "error", err)
		}
	}
}

func (c *Client) connectServer(ctx context.Context, srv *models.MCPServer) error {
	c.mu.RLock()
	_, exists := c.sessions[srv.Name]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	cmd := exec.Command(srv.Command, srv.Args...)
	env := os.Environ()
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	tools.ConfigureChild(cmd)
	transport := &mcpsdk.CommandTransport{Command: cmd}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := mcpsdk.Transport(transport).(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", srv.Name, err)
	}

	c.mu.Lock()
	c.sessions[srv.Name] = session
	delete(c.failedServers, srv.Name)
	c.mu.Unlock()
	slog.Info("MCP server connected", "server", srv.Name)
	return nil
}

// FailedServers returns a copy of the connection failures.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		out[k] = v
	}
	return out
}

// Close shuts down all sessions, terminating the child processes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close session %q: %w", name, err)
		}
		delete(c.sessions, name)
	}
	return firstErr
}

// Adopt discovers each connected server's tools and registers them under
// mcp/<server>/<tool>. Returns the number of tools adopted.
func (c *Client) Adopt(ctx context.Context, registry *tools.Registry) (int, error) {
	c.mu.RLock()
	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	c.mu.RUnlock()

	adopted := 0
	for _, serverName := range names {
		serverTools, err := c.listTools(ctx, serverName)
		if err != nil {
			slog.Warn("Failed to list MCP tools", "server", serverName, "error", err)
			continue
		}
		for _, t := range serverTools {
			spec := c.toolSpec(serverName, t)
			if err := registry.Register(spec); err != nil {
				slog.Warn("Failed to adopt MCP tool", "tool", spec.Name, "error", err)
				continue
			}
			adopted++
		}
	}
	return adopted, nil
}

func (c *Client) listTools(ctx context.Context, serverName string) ([]*mcpsdk.Tool, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverName]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverName)
	}
	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverName, err)
	}
	return result.Tools, nil
}

// toolSpec wraps one remote tool as a registry spec. MCP tools are always
// risky: the engine cannot see what the subprocess does.
func (c *Client) toolSpec(serverName string, t *mcpsdk.Tool) tools.Spec {
	schema := schemaToMap(t.InputSchema)
	name := fmt.Sprintf("mcp/%s/%s", serverName, t.Name)
	remote := t.Name
	return tools.Spec{
		Name:        name,
		Description: t.Description,
		InputSchema: schema,
		Risky:       true,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return c.CallTool(ctx, serverName, remote, args)
		},
	}
}

// CallTool invokes one tool on a connected server and flattens the text
// content of the result.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args json.RawMessage) (any, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverName]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("MCP server %q is not connected", serverName)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tool %q on %q failed: %w", toolName, serverName, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return nil, fmt.Errorf("tool %q reported an error: %s", toolName, text)
	}
	return map[string]any{"content": text}, nil
}

func flattenContent(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts the SDK's schema representation into the plain map
// form the registry compiles.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
