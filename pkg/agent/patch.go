package agent

import (
	"context"
	"fmt"

	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

// applyPatch mutates the step list. remove_steps is applied first,
// unconditionally, then either the suffix at replace_steps_from_idx is
// replaced by add_steps or add_steps is appended after the current max idx.
// A patch that would leave more than MaxPlanSteps steps is rejected whole,
// before any row is touched.
func applyPatch(ctx context.Context, steps *services.StepService, taskID string, patch *models.Patch) error {
	if patch == nil {
		return nil
	}

	existing, err := steps.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	removed := make(map[int]bool, len(patch.RemoveSteps))
	for _, idx := range patch.RemoveSteps {
		removed[idx] = true
	}
	survivors := 0
	for _, s := range existing {
		if removed[s.Idx] {
			continue
		}
		if patch.ReplaceStepsFromIdx != nil && s.Idx >= *patch.ReplaceStepsFromIdx {
			continue
		}
		survivors++
	}
	if survivors+len(patch.AddSteps) > models.MaxPlanSteps {
		return fmt.Errorf("patch rejected: plan would exceed %d steps", models.MaxPlanSteps)
	}

	if len(patch.RemoveSteps) > 0 {
		if err := steps.DeleteByIdx(ctx, taskID, patch.RemoveSteps); err != nil {
			return err
		}
	}
	if patch.ReplaceStepsFromIdx != nil {
		from := *patch.ReplaceStepsFromIdx
		if from < 0 {
			return fmt.Errorf("patch rejected: negative replace_steps_from_idx")
		}
		if err := steps.DeleteFromIdx(ctx, taskID, from); err != nil {
			return err
		}
		_, err := steps.Insert(ctx, taskID, patch.AddSteps, from)
		return err
	}

	maxIdx, err := steps.MaxIdx(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = steps.Insert(ctx, taskID, patch.AddSteps, maxIdx+1)
	return err
}
