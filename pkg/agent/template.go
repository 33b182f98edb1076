package agent

import (
	"regexp"
	"strings"
)

// RenderPromptTemplate substitutes a small set of placeholders into a skill
// prompt. Both <var> and {{ var }} spellings are supported.
func RenderPromptTemplate(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	out := text
	for k, v := range vars {
		if k == "" {
			continue
		}
		out = strings.ReplaceAll(out, "<"+k+">", v)
		re := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(k) + `\s*\}\}`)
		out = re.ReplaceAllLiteralString(out, v)
	}
	return out
}
