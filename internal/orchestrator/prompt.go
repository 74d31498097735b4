package orchestrator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/hint"
)

type promptData struct {
	domain.Payload
	Level      int
	MaxLevel   int
	HintType   string
	Guidance   string
	PriorTurns []domain.HintTurn
	Concepts   []string
}

const promptTemplates = `
{{define "header"}}Problem: {{.ProblemTitle}}
{{with .ProblemDescription}}Description:
{{.}}
{{end}}{{with .Language}}Language: {{.}}
{{end}}{{end}}

{{define "completion"}}{{template "header" .}}Complete the code at the cursor (offset {{.CursorPosition}}). Reply with code only.
Current code:
{{.CurrentCode}}
{{end}}

{{define "explanation"}}{{template "header" .}}Explain what the following code does and why.
{{if .SelectedText}}{{.SelectedText}}{{else}}{{.CurrentCode}}{{end}}
{{end}}

{{define "optimization"}}{{template "header" .}}Suggest time and space improvements for this code. Describe the trade-offs.
{{.CurrentCode}}
{{end}}

{{define "hint"}}{{template "header" .}}You are a tutor. Give hint {{.Level}} of {{.MaxLevel}} ({{.HintType}}).
{{.Guidance}}
Never provide a complete solution, full function bodies, or a final answer.
{{if .PriorTurns}}Hints already given:
{{range .PriorTurns}}- [{{.Level}}] {{.Content}}
{{end}}Do not repeat them.
{{end}}{{with .Concepts}}Concepts already introduced: {{join . ", "}}
{{end}}{{with .CurrentCode}}Learner's current code:
{{.}}
{{end}}{{end}}
`

var prompts = template.Must(template.New("prompts").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(promptTemplates))

// buildPrompt renders the prompt for class. Hint-only fields are ignored for
// other classes.
func buildPrompt(class domain.RequestClass, data promptData) (string, error) {
	var name string
	switch class {
	case domain.ClassCompletion:
		name = "completion"
	case domain.ClassExplanation:
		name = "explanation"
	case domain.ClassOptimization:
		name = "optimization"
	case domain.ClassHint:
		name = "hint"
		data.HintType = hint.HintType(data.Level)
		if data.Guidance == "" {
			data.Guidance = hint.NextGuidance(data.Level)
		}
	default:
		return "", fmt.Errorf("no prompt for class %d", class)
	}

	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
