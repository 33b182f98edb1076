package agent

import (
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkbench/workbench/pkg/models"
)

// CollectArtifacts walks artifactsDir/<taskID> and lists every file with
// its size. A missing directory means no tool produced output.
func CollectArtifacts(artifactsDir, taskID string) ([]Artifact, error) {
	base := filepath.Join(artifactsDir, taskID)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}
	var out []Artifact
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Artifact{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect artifacts: %w", err)
	}
	return out, nil
}

// writeRunReport emits report.md and report.html under the workspace's
// outputs/<taskID> directory and returns the markdown path.
func writeRunReport(wsRoot, taskID, goal string, plan *models.Plan, steps []*models.Step, artifacts []Artifact) (string, error) {
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
	b.WriteString("## Plan Summary\n")
	if plan != nil {
		b.WriteString(plan.Summary)
	}
	b.WriteString("\n\n## Steps\n")
	for _, s := range steps {
		fmt.Fprintf(&b, "- **%d. %s** (`%s`) — %s\n", s.Idx+1, s.Name, s.Tool, s.Status)
		if s.Error != "" {
			fmt.Fprintf(&b, "  - Error: %s\n", s.Error)
		}
	}
	b.WriteString("\n## Artifacts\n")
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
