// Package llm implements an OpenAI-chat-compatible client with a streaming
// transport tolerant of the gateway quirks seen in the wild.
package llm

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is an OpenAI function-call tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes one callable function.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is one chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  any
	Temperature *float64
	MaxTokens   int
	// ResponseFormat is "" or "json_object".
	ResponseFormat string
	// Timeout bounds the whole call. Zero means the client default.
	Timeout time.Duration
}

// Result is the accumulated outcome of a chat call, streaming or not.
type Result struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
}

// Delta is one streamed increment, surfaced to observers for live display.
type Delta struct {
	Content   string
	Reasoning string
}

// DeltaFunc observes streamed increments. It must not block.
type DeltaFunc func(Delta)

// ChatProvider abstracts the transport so engines can run against a
// scripted fake in tests.
type ChatProvider interface {
	Chat(ctx context.Context, req Request) (*Result, error)
	ChatStream(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error)
}
