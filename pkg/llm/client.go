package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrEmptyStream is returned when the gateway closed the stream without
// delivering any content, tool calls, or finish reason, after all retries.
var ErrEmptyStream = errors.New("empty SSE stream (no content/tool_calls)")

// emptyStreamRetries is the total number of attempts for a streaming call
// that keeps coming back empty.
const emptyStreamRetries = 3

const defaultTimeout = 120 * time.Second

// Client talks to an OpenAI-chat-compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL is the API root (".../v1").
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Per-request timeouts come from the context; the transport itself
		// must outlive long streams.
		httpClient: &http.Client{},
	}
}

var _ ChatProvider = (*Client)(nil)

// Chat performs a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseCompletionBody(body)
}

// ChatStream performs a streaming completion. Gateways that ignore
// stream=true and return a plain JSON body are handled transparently.
// Streams that end with nothing accumulated are retried up to 3 attempts.
func (c *Client) ChatStream(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error) {
	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= emptyStreamRetries; attempt++ {
		result, err := c.streamOnce(ctx, req, onDelta)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, ErrEmptyStream) || ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("LLM stream came back empty, retrying",
			"attempt", attempt, "model", req.Model)
	}
	return nil, lastErr
}

func (c *Client) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	payload := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
		if req.ToolChoice != nil {
			payload["tool_choice"] = req.ToolChoice
		} else {
			payload["tool_choice"] = "auto"
		}
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.ResponseFormat != "" {
		payload["response_format"] = map[string]string{"type": req.ResponseFormat}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

func (c *Client) streamOnce(ctx context.Context, req Request, onDelta DeltaFunc) (*Result, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A non-event-stream content type means the gateway ignored
	// stream=true; parse the whole body as a normal completion.
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}
		return parseCompletionBody(body)
	}

	acc := newAccumulator(onDelta)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	// Multi-line data: payloads are concatenated and parsed eagerly — as
	// soon as the buffer is valid JSON it is consumed, whether or not a
	// blank line arrived.
	var dataBuf strings.Builder
	flush := func() bool {
		if dataBuf.Len() == 0 {
			return false
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(dataBuf.String()), &chunk); err != nil {
			return false
		}
		dataBuf.Reset()
		acc.apply(&chunk)
		return true
	}

	done := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			done = true
			break
		}
		dataBuf.WriteString(data)
		flush()
	}
	if err := scanner.Err(); err != nil && !done {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	flush()

	result := acc.result()
	if result.Content == "" && len(result.ToolCalls) == 0 && result.FinishReason == "" {
		return nil, ErrEmptyStream
	}
	return result, nil
}

// streamChunk is one SSE frame. Gateways sometimes send a full message
// object in place of a delta.
type streamChunk struct {
	Choices []struct {
		Delta        *chunkMessage `json:"delta"`
		Message      *chunkMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type chunkMessage struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content"`
	Reasoning        string           `json:"reasoning"`
	ToolCalls        []chunkToolCall  `json:"tool_calls"`
	FunctionCall     *chunkFuncFields `json:"function_call"` // legacy
}

type chunkToolCall struct {
	Index    *int            `json:"index"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function chunkFuncFields `json:"function"`
}

type chunkFuncFields struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// accumulator folds stream chunks into a Result.
type accumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*ToolCall
	finish    string
	onDelta   DeltaFunc
}

func newAccumulator(onDelta DeltaFunc) *accumulator {
	return &accumulator{calls: make(map[int]*ToolCall), onDelta: onDelta}
}

func (a *accumulator) apply(chunk *streamChunk) {
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	msg := choice.Delta
	if msg == nil {
		msg = choice.Message
	}
	if choice.FinishReason != "" {
		a.finish = choice.FinishReason
	}
	if msg == nil {
		return
	}

	var delta Delta
	if msg.Content != "" {
		a.content.WriteString(msg.Content)
		delta.Content = msg.Content
	} else if len(msg.ToolCalls) == 0 && msg.FunctionCall == nil {
		// Some gateways emit tokens only in reasoning fields.
		reasoning := msg.ReasoningContent
		if reasoning == "" {
			reasoning = msg.Reasoning
		}
		if reasoning != "" {
			a.reasoning.WriteString(reasoning)
			delta.Reasoning = reasoning
		}
	}

	for i, tc := range msg.ToolCalls {
		idx := i
		if tc.Index != nil {
			idx = *tc.Index
		}
		a.mergeToolCall(idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	if msg.FunctionCall != nil {
		a.mergeToolCall(0, "", msg.FunctionCall.Name, msg.FunctionCall.Arguments)
	}

	if a.onDelta != nil && (delta.Content != "" || delta.Reasoning != "") {
		a.onDelta(delta)
	}
}

func (a *accumulator) mergeToolCall(idx int, id, name, args string) {
	call := a.calls[idx]
	if call == nil {
		call = &ToolCall{Type: "function"}
		a.calls[idx] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Function.Name = name
	}
	call.Function.Arguments += args
}

func (a *accumulator) result() *Result {
	idxs := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	calls := make([]ToolCall, 0, len(idxs))
	for _, idx := range idxs {
		call := *a.calls[idx]
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", idx)
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		calls = append(calls, call)
	}

	return &Result{
		Content:      a.content.String(),
		Reasoning:    a.reasoning.String(),
		ToolCalls:    calls,
		FinishReason: a.finish,
	}
}

// parseCompletionBody decodes a non-streaming completion response.
func parseCompletionBody(body []byte) (*Result, error) {
	var resp struct {
		Choices []struct {
			Message      chunkMessage `json:"message"`
			FinishReason string       `json:"finish_reason"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("chat request failed: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices")
	}

	choice := resp.Choices[0]
	acc := newAccumulator(nil)
	acc.apply(&streamChunk{Choices: []struct {
		Delta        *chunkMessage `json:"delta"`
		Message      *chunkMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	}{{Message: &choice.Message, FinishReason: choice.FinishReason}}})
	return acc.result(), nil
}
