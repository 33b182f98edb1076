package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatStreamAccumulatesContent(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":", world"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})

	var deltas []string
	client := NewClient(srv.URL, "test-key")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, func(d Delta) {
		deltas = append(deltas, d.Content)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, []string{"Hello", ", world"}, deltas)
}

func TestChatStreamReasoningFallback(t *testing.T) {
	// Gateways that emit tokens only in reasoning fields still produce
	// visible output.
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"reasoning_content":"thinking "}}]}`,
		``,
		`data: {"choices":[{"delta":{"reasoning":"hard"}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "thinking hard", result.Reasoning)
	assert.Empty(t, result.Content)
}

func TestChatStreamFullMessageInsteadOfDelta(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"message":{"content":"whole message"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "whole message", result.Content)
}

func TestChatStreamMultiLineData(t *testing.T) {
	// A JSON payload split across data: lines is reassembled.
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":`,
		`data: {"content":"split"}}]}`,
		``,
		`data: [DONE]`,
	})

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "split", result.Content)
}

func TestChatStreamToolCallAccumulation(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"shell.exec","arguments":"{\"cmd\""}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"ls\"}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_def","type":"function","function":{"name":"web.fetch","arguments":"{}"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
	})

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "call_abc", result.ToolCalls[0].ID)
	assert.Equal(t, "shell.exec", result.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"cmd":"ls"}`, result.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "web.fetch", result.ToolCalls[1].Function.Name)
	assert.Equal(t, "tool_calls", result.FinishReason)
}

func TestChatStreamIgnoresCommentsAndEvents(t *testing.T) {
	srv := sseServer(t, []string{
		`: keepalive`,
		`event: message`,
		`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
	})

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
}

func TestChatStreamPlainJSONBody(t *testing.T) {
	// A gateway that ignores stream=true and answers with a normal
	// completion body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "non-streamed"},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "")
	result, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "non-streamed", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestChatStreamEmptyStreamRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "")
	_, err := client.ChatStream(context.Background(), Request{Model: "m"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyStream))
	assert.Equal(t, 3, calls)
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekret", r.Header.Get("Authorization"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "answer",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "filesystem.list",
							"arguments": `{"path":"."}`,
						},
					}},
				},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "sekret")
	result, err := client.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "filesystem.list", result.ToolCalls[0].Function.Name)
}

func TestChatErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "wrong")
	_, err := client.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestChatErrorInBodyWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "")
	_, err := client.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}
