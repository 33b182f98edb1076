package models

import "encoding/json"

// Plan is the strict-JSON output of the planner role.
type Plan struct {
	Summary   string         `json:"summary"`
	Artifacts []PlanArtifact `json:"artifacts"`
	Steps     []PlanStep     `json:"steps"`
}

// PlanArtifact is a file the plan promises to produce.
type PlanArtifact struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// PlanStep is one planned step before it is persisted as a Step row.
type PlanStep struct {
	Name             string          `json:"name"`
	Tool             string          `json:"tool"`
	Args             json.RawMessage `json:"args"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// Patch is the executor role's proposed plan modification.
// RemoveSteps is applied first, unconditionally; then either the suffix at
// ReplaceStepsFromIdx is replaced by AddSteps, or AddSteps is appended.
type Patch struct {
	Reason              string     `json:"reason,omitempty"`
	AddSteps            []PlanStep `json:"add_steps,omitempty"`
	ReplaceStepsFromIdx *int       `json:"replace_steps_from_idx,omitempty"`
	RemoveSteps         []int      `json:"remove_steps,omitempty"`
}

// Verdict is the critic role's review of a finished plan.
type Verdict struct {
	OK       bool       `json:"ok"`
	Issues   []string   `json:"issues,omitempty"`
	FixSteps []PlanStep `json:"fix_steps,omitempty"`
}

// MaxPlanSteps caps the total step count after any patch.
const MaxPlanSteps = 25
