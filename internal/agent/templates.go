// File: internal/agent/templates.go
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// promptVars are the variables templates may reference. Templates are opaque
// to the agent; it only supplies these values.
type promptVars struct {
	Observation    string
	Choices        []string
	ParamsState    []string
	MemoryBlock    string
	LoopHint       string
	SchemaReminder string
}

// defaultSystemTemplate is used when an agent config names no template.
const defaultSystemTemplate = `You are an expert player of branching text quests. At every step you read the situation, weigh the available actions, and choose exactly one of them.

Always answer with a single JSON object of the form:
{"analysis": "<short factual read of the situation>", "reasoning": "<why you pick this action>", "result": <1-based number of the chosen action>}

The "result" field is mandatory and must be one of the listed action numbers. Do not add any text outside the JSON object.`

// defaultActionTemplate renders one decision request.
const defaultActionTemplate = `{{if .MemoryBlock}}Your memory of previous steps:
{{.MemoryBlock}}

{{end}}Current situation:
{{.Observation}}
{{if .ParamsState}}
Status:
{{range .ParamsState}}{{.}}
{{end}}{{end}}
Available actions:
{{range .Choices}}{{.}}
{{end}}{{if .LoopHint}}
{{.LoopHint}}
{{end}}{{if .SchemaReminder}}
{{.SchemaReminder}}
{{end}}Choose one action and answer with the JSON object.`

// schemaReminder is injected on parse-failure retries.
const schemaReminder = `Reminder: your previous reply could not be parsed. Answer with ONLY a JSON object {"analysis": "...", "reasoning": "...", "result": <number>} and nothing else.`

// loopHintText is injected when the loop tracker fires.
const loopHintText = `You have repeated this state several times with the same action. Prefer a different action than your previous choice here.`

// summarySystemPrompt drives the secondary summarization call.
const summarySystemPrompt = `You maintain a terse play journal. Compress the given quest steps into a short factual summary of what happened, what was tried, and what is known. Answer with plain text only.`

// loadTemplate resolves a template reference: empty picks the fallback, a
// readable file under dir is loaded, and a ref that looks like a file (it
// contains a path separator or ends in .tmpl) but cannot be read under dir is
// an error. Anything else is parsed as inline template text.
func loadTemplate(name, ref, dir, fallback string) (*template.Template, error) {
	text := fallback
	if ref != "" {
		text = ref
		if dir != "" {
			path := filepath.Join(dir, ref)
			if data, err := os.ReadFile(path); err == nil {
				text = string(data)
			} else if strings.ContainsAny(ref, "/\\") || strings.HasSuffix(ref, ".tmpl") {
				return nil, fmt.Errorf("agent: template file %s: %w", path, err)
			}
		}
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("agent: parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// render executes a template into a string.
func render(tmpl *template.Template, vars promptVars) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("agent: render %s: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
