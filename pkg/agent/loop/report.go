package loop

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkbench/workbench/pkg/agent"
)

// writeLoopReport emits report.md and report.html for an agent-loop run.
// The loop has no step plan, so the report carries the final output and
// the artifact index.
func writeLoopReport(wsRoot, taskID, goal, output string, artifacts []agent.Artifact) (string, error) {
	outDir := filepath.Join(wsRoot, "outputs", taskID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create outputs dir: %w", err)
	}
	mdPath := filepath.Join(outDir, "report.md")
	htmlPath := filepath.Join(outDir, "report.html")

	var b strings.Builder
	fmt.Fprintf(&b, "# Run Report: %s\n\n", taskID)
	b.WriteString("## Goal\n")
	b.WriteString(goal + "\n\n")
	b.WriteString("## Output\n")
	b.WriteString(output + "\n\n")
	b.WriteString("## Artifacts\n")
	if len(artifacts) > 0 {
		for _, a := range artifacts {
			fmt.Fprintf(&b, "- `%s` (%d bytes)\n", a.Path, a.Size)
		}
	} else {
		b.WriteString("_No artifacts generated._\n")
	}

	md := b.String()
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report.md: %w", err)
	}
	page := "<html><head><meta charset='utf-8'><title>Run Report</title></head><body>" +
		"<pre>" + html.EscapeString(md) + "</pre>" +
		"</body></html>"
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report.html: %w", err)
	}
	return mdPath, nil
}
