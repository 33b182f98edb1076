package tools

import "context"

// RunContext carries per-task paths into tool handlers. File tools confine
// themselves to WorkspaceRoot; artifact-producing tools write under
// ArtifactsDir.
type RunContext struct {
	TaskID        string
	StepID        string
	WorkspaceRoot string
	ArtifactsDir  string
	OutputsDir    string
}

type runContextKey struct{}

// WithRunContext attaches a RunContext to ctx.
func WithRunContext(ctx context.Context, rc RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFrom extracts the RunContext, if any.
func RunContextFrom(ctx context.Context) (RunContext, bool) {
	rc, ok := ctx.Value(runContextKey{}).(RunContext)
	return rc, ok
}
