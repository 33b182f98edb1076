package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: "echoes its args",
		InputSchema: objectSchema(map[string]any{
			"value": map[string]any{"type": "string"},
		}, []string{"value"}),
		Handler: func(_ context.Context, args json.RawMessage) (any, error) {
			var a struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, err
			}
			return map[string]any{"echo": a.Value}, nil
		},
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec("test.echo")))

	err := r.Register(echoSpec("test.echo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsMissingHandler(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Spec{Name: "test.broken"}))
	assert.Error(t, r.Register(Spec{Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil }}))
}

func TestRegistryRunDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec("test.echo")))

	out, err := r.Run(context.Background(), "test.echo", json.RawMessage(`{"value":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, string(out))
}

func TestRegistryRunUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestRegistryRunValidatesArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec("test.echo")))

	// Missing required field fails schema validation before the handler.
	_, err := r.Run(context.Background(), "test.echo", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")

	// Malformed JSON is rejected too.
	_, err = r.Run(context.Background(), "test.echo", json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestRegistryRunRecoversPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name: "test.panic",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("boom")
		},
	}))

	_, err := r.Run(context.Background(), "test.panic", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRegistryListFiltersAndSorts(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c.tool", "a.tool", "b.tool"} {
		require.NoError(t, r.Register(echoSpec(name)))
	}

	all := r.List(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "a.tool", all[0].Name)
	assert.Equal(t, "c.tool", all[2].Name)

	subset := r.List([]string{"b.tool", "missing.tool"})
	require.Len(t, subset, 1)
	assert.Equal(t, "b.tool", subset[0].Name)
}

func TestRegistryOpenAITools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec("test.echo")))
	require.NoError(t, r.Register(Spec{
		Name:    "test.bare",
		Handler: func(context.Context, json.RawMessage) (any, error) { return nil, nil },
	}))

	defs := r.OpenAITools(nil)
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	// A tool with no schema still exports a valid empty object schema.
	for _, d := range defs {
		if d.Function.Name == "test.bare" {
			assert.Equal(t, "object", d.Function.Parameters["type"])
		}
	}
}
