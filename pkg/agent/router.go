package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/agentworkbench/workbench/pkg/models"
	"github.com/agentworkbench/workbench/pkg/services"
)

// SkillRouter picks the best skill for a goal. An LLM classifier is
// preferred; keyword overlap is the offline fallback so auto-created tasks
// never block on a misconfigured provider.
type SkillRouter struct {
	provider llm.ChatProvider
	models   Models
	// offline skips the LLM call entirely (placeholder API key, no base URL)
	offline bool
}

// NewSkillRouter creates a SkillRouter.
func NewSkillRouter(provider llm.ChatProvider, m Models, offline bool) *SkillRouter {
	return &SkillRouter{provider: provider, models: m, offline: offline}
}

// routerTimeout bounds the classifier call; routing must stay snappy.
const routerTimeout = 4 * time.Second

// ChooseSkill returns the id of the best-matching enabled skill.
func (r *SkillRouter) ChooseSkill(ctx context.Context, goal string, skills []*models.Skill, hint, mode string) (string, error) {
	if len(skills) == 0 {
		return "", services.NewValidationError("skill_id", "no skills available")
	}
	if len(skills) == 1 {
		return skills[0].ID, nil
	}
	if r.offline {
		return heuristicChoose(goal, skills), nil
	}

	type option struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	options := make([]option, 0, len(skills))
	for _, s := range skills {
		options = append(options, option{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	payload := map[string]any{"goal": goal, "skills": options}
	if hint != "" {
		payload["hint"] = hint
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return heuristicChoose(goal, skills), nil
	}

	zero := 0.0
	resp, err := r.provider.Chat(ctx, llm.Request{
		Model: r.models.ForMode(mode),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: routerSystem},
			{Role: llm.RoleUser, Content: string(body)},
		},
		Temperature:    &zero,
		ResponseFormat: "json_object",
		Timeout:        routerTimeout,
	})
	if err == nil {
		var choice struct {
			SkillID string `json:"skill_id"`
		}
		if extractJSON(resp.Content, &choice) == nil {
			id := strings.TrimSpace(choice.SkillID)
			for _, s := range skills {
				if s.ID == id {
					return id, nil
				}
			}
		}
	} else {
		slog.Debug("Skill router LLM call failed, using keyword fallback", "error", err)
	}

	return heuristicChoose(goal, skills), nil
}

// keywordGroups score a skill when both the goal and the skill's text
// mention a keyword from the group.
var keywordGroups = []struct {
	keys   []string
	weight int
}{
	{[]string{"research", "report", "paper", "survey", "search", "crawl", "deep research", "调研", "研究", "论文", "报告", "检索"}, 3},
	{[]string{"file", "folder", "cleanup", "organize", "整理", "归档", "文件", "目录"}, 3},
	{[]string{"media", "image", "audio", "video", "生成", "配音", "图片", "视频", "音频"}, 2},
	{[]string{"code", "build", "debug", "repo", "项目", "代码", "修复", "开发"}, 2},
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9\x{4e00}-\x{9fff}]+`)
var whitespace = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(s), " "))
}

func heuristicChoose(goal string, skills []*models.Skill) string {
	g := normalizeText(goal)
	if g == "" {
		return skills[0].ID
	}

	bestID, bestScore := skills[0].ID, -1
	for _, s := range skills {
		t := normalizeText(s.Name + " " + s.Description + " " + s.SourceFile)
		score := 0
		for _, grp := range keywordGroups {
			for _, k := range grp.keys {
				if strings.Contains(g, k) && strings.Contains(t, k) {
					score += grp.weight
				}
			}
		}
		seen := make(map[string]bool)
		for _, token := range tokenSplit.Split(g, -1) {
			if len(token) < 2 || seen[token] {
				continue
			}
			seen[token] = true
			if strings.Contains(t, token) {
				score++
			}
		}
		if score > bestScore {
			bestID, bestScore = s.ID, score
		}
	}
	return bestID
}
