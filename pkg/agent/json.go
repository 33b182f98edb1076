package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON pulls the first top-level JSON object out of model output.
// Models occasionally wrap JSON in prose or code fences despite
// response_format=json_object; jsonrepair handles trailing commas and
// unquoted keys before we give up.
func extractJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty model output")
	}

	candidate := text
	if !(strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return fmt.Errorf("no JSON object in model output")
		}
		candidate = text[start : end+1]
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("failed to parse model output as JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to parse repaired model output: %w", err)
	}
	return nil
}
