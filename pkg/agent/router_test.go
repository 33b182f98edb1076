package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
)

// scriptedProvider returns canned results in order.
type scriptedProvider struct {
	results []*llm.Result
	errs    []error
	calls   int
	lastReq llm.Request
}

func (p *scriptedProvider) next() (*llm.Result, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return &llm.Result{Content: "{}"}, nil
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.Request) (*llm.Result, error) {
	p.lastReq = req
	return p.next()
}

func (p *scriptedProvider) ChatStream(_ context.Context, req llm.Request, onDelta llm.DeltaFunc) (*llm.Result, error) {
	p.lastReq = req
	res, err := p.next()
	if err == nil && onDelta != nil && res.Content != "" {
		onDelta(llm.Delta{Content: res.Content})
	}
	return res, err
}

func testSkills() []*models.Skill {
	return []*models.Skill{
		{
			ID:          "skill-research",
			Name:        "Deep Research",
			Description: "Research topics, search the web and write survey reports and papers.",
		},
		{
			ID:          "skill-files",
			Name:        "File Organizer",
			Description: "Organize files and folders, cleanup and archive the workspace.",
		},
	}
}

func TestChooseSkillNoSkills(t *testing.T) {
	r := NewSkillRouter(&scriptedProvider{}, Models{Fast: "f"}, false)
	_, err := r.ChooseSkill(context.Background(), "goal", nil, "", "fast")
	assert.Error(t, err)
}

func TestChooseSkillSingleSkillShortCircuits(t *testing.T) {
	provider := &scriptedProvider{}
	r := NewSkillRouter(provider, Models{Fast: "f"}, false)

	id, err := r.ChooseSkill(context.Background(), "goal", testSkills()[:1], "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-research", id)
	assert.Zero(t, provider.calls, "no LLM call for a single skill")
}

func TestChooseSkillOfflineHeuristic(t *testing.T) {
	provider := &scriptedProvider{}
	r := NewSkillRouter(provider, Models{Fast: "f"}, true)
	ctx := context.Background()

	id, err := r.ChooseSkill(ctx, "write a research report on solar panels", testSkills(), "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-research", id)
	assert.Zero(t, provider.calls)

	id, err = r.ChooseSkill(ctx, "cleanup and organize my download folders", testSkills(), "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-files", id)
}

func TestChooseSkillLLMChoice(t *testing.T) {
	provider := &scriptedProvider{results: []*llm.Result{
		{Content: `{"skill_id":"skill-files"}`},
	}}
	r := NewSkillRouter(provider, Models{Fast: "fast-model"}, false)

	id, err := r.ChooseSkill(context.Background(), "tidy up my desktop", testSkills(), "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-files", id)
	assert.Equal(t, "fast-model", provider.lastReq.Model)
	assert.Equal(t, "json_object", provider.lastReq.ResponseFormat)
}

func TestChooseSkillLLMUnknownIDFallsBack(t *testing.T) {
	// The classifier hallucinates an ID; the keyword fallback still picks a
	// real skill.
	provider := &scriptedProvider{results: []*llm.Result{
		{Content: `{"skill_id":"skill-does-not-exist"}`},
	}}
	r := NewSkillRouter(provider, Models{Fast: "f"}, false)

	id, err := r.ChooseSkill(context.Background(), "research the history of tea", testSkills(), "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-research", id)
}

func TestChooseSkillLLMErrorFallsBack(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("gateway down")}}
	r := NewSkillRouter(provider, Models{Fast: "f"}, false)

	id, err := r.ChooseSkill(context.Background(), "organize the archive files", testSkills(), "", "fast")
	require.NoError(t, err)
	assert.Equal(t, "skill-files", id)
}

func TestHeuristicChooseEmptyGoal(t *testing.T) {
	assert.Equal(t, "skill-research", heuristicChoose("", testSkills()))
}
