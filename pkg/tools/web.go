package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxFetchBytes bounds web.fetch response bodies.
const maxFetchBytes = 256 * 1024

// RegisterWebTools adds the network tools.
func RegisterWebTools(r *Registry) error {
	client := &http.Client{Timeout: 30 * time.Second}
	return r.Register(Spec{
		Name:        "web.fetch",
		Description: "Fetch a URL with GET and return status, headers and a truncated body.",
		InputSchema: objectSchema(map[string]any{
			"url": map[string]any{"type": "string"},
		}, []string{"url"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return webFetch(ctx, client, args)
		},
	})
}

func webFetch(ctx context.Context, client *http.Client, args json.RawMessage) (any, error) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
		truncated = true
	}
	return map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}, nil
}
