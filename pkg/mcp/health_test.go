//go:build !windows

package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentworkbench/workbench/pkg/models"
)

func TestHealthcheckSuccess(t *testing.T) {
	res := Healthcheck(context.Background(), &models.MCPServer{
		Name:            "echo",
		Command:         "sh",
		HealthcheckArgs: []string{"-c", "echo server 1.2.3"},
	})
	assert.True(t, res.OK)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "server 1.2.3")
	assert.Empty(t, res.Error)
}

func TestHealthcheckNonZeroExit(t *testing.T) {
	res := Healthcheck(context.Background(), &models.MCPServer{
		Name:            "failing",
		Command:         "sh",
		HealthcheckArgs: []string{"-c", "echo broken >&2; exit 3"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "broken")
	assert.NotEmpty(t, res.Error)
}

func TestHealthcheckMissingBinary(t *testing.T) {
	res := Healthcheck(context.Background(), &models.MCPServer{
		Name:    "absent",
		Command: "definitely-not-a-real-binary-xyz",
	})
	assert.False(t, res.OK)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Error)
}

func TestHealthcheckEnvPassthrough(t *testing.T) {
	res := Healthcheck(context.Background(), &models.MCPServer{
		Name:            "env",
		Command:         "sh",
		Env:             map[string]string{"PROBE_VALUE": "forty-two"},
		HealthcheckArgs: []string{"-c", "echo $PROBE_VALUE"},
	})
	assert.True(t, res.OK)
	assert.Contains(t, res.Stdout, "forty-two")
}
