package agent

// Models maps run modes to model IDs.
type Models struct {
	Fast string
	Pro  string
}

// ForMode returns the model ID for a run mode. Anything other than "pro"
// uses the fast model.
func (m Models) ForMode(mode string) string {
	if mode == "pro" {
		return m.Pro
	}
	return m.Fast
}

// ApprovalDefaults are the configurable per-scope approval requirements.
// Tools outside these scopes fall back to their spec's risky flag.
type ApprovalDefaults struct {
	Shell        bool
	FSWrite      bool
	FSDelete     bool
	BrowserClick bool
}

// RequiredFor returns the default consent requirement for a tool.
// riskyDefault is the tool spec's risky flag (true for unknown tools).
func (d ApprovalDefaults) RequiredFor(name string, riskyDefault bool) bool {
	switch name {
	case "shell.exec":
		return d.Shell
	case "filesystem.write_text", "filesystem.mkdir", "filesystem.move":
		return d.FSWrite
	case "filesystem.delete":
		return d.FSDelete
	case "browser.click":
		return d.BrowserClick
	}
	return riskyDefault
}

// Options configures the engines.
type Options struct {
	Models           Models
	Approvals        ApprovalDefaults
	ArtifactsDir     string
	PlaceholderedKey bool // true when the LLM key looks unconfigured
}
