// File: internal/agent/memory.go
// Description: Per-run agent memory. Pure data, separate from prompt
// rendering; reconstructed for every run and never persisted.
package agent

import (
	"fmt"
	"strings"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// memoryEntry is one remembered step tuple.
type memoryEntry struct {
	Observation string
	Choices     []string
	Action      int
	Reasoning   string
	ToolNote    string
}

// memory holds the rolling step history plus an optional summary of entries
// that rolled out of the window.
type memory struct {
	mode       schemas.MemoryType
	maxHistory int
	entries    []memoryEntry
	summary    string
	totalSteps int
}

func newMemory(cfg *schemas.MemoryConfig) *memory {
	if cfg == nil || cfg.Type == "" || cfg.Type == schemas.MemoryNone {
		return &memory{mode: schemas.MemoryNone}
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &memory{mode: cfg.Type, maxHistory: maxHistory}
}

// remember appends a step tuple, evicting beyond the window. Evicted entries
// are kept pending for the summarizer in summary mode.
func (m *memory) remember(e memoryEntry) {
	if m.mode == schemas.MemoryNone {
		return
	}
	m.totalSteps++
	m.entries = append(m.entries, e)
	if len(m.entries) > m.maxHistory {
		if m.mode == schemas.MemorySummary {
			// Oldest entry rolls into summary territory; the summarizer
			// rewrites the blob on its next scheduled pass.
			evicted := renderEntries(m.entries[:1])
			if m.summary == "" {
				m.summary = evicted
			} else {
				m.summary += "\n" + evicted
			}
		}
		m.entries = m.entries[1:]
	}
}

// block renders the memory contribution to the next prompt, empty for mode
// none.
func (m *memory) block() string {
	switch m.mode {
	case schemas.MemoryNone:
		return ""
	case schemas.MemorySummary:
		var sb strings.Builder
		if m.summary != "" {
			sb.WriteString("Summary of earlier steps:\n")
			sb.WriteString(m.summary)
			sb.WriteString("\n\n")
		}
		sb.WriteString(renderEntries(m.entries))
		return strings.TrimSpace(sb.String())
	default:
		return renderEntries(m.entries)
	}
}

// wantsSummary reports whether the summarizer should run after this step.
func (m *memory) wantsSummary(interval int) bool {
	if m.mode != schemas.MemorySummary || interval <= 0 {
		return false
	}
	return m.totalSteps > 0 && m.totalSteps%interval == 0
}

// setSummary replaces the rolled-up history blob.
func (m *memory) setSummary(s string) {
	m.summary = strings.TrimSpace(s)
}

// summaryInput renders everything the summarizer should compress.
func (m *memory) summaryInput() string {
	var sb strings.Builder
	if m.summary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(m.summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Recent steps:\n")
	sb.WriteString(renderEntries(m.entries))
	return sb.String()
}

func renderEntries(entries []memoryEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[Step %d]\n%s\n", i+1, e.Observation)
		if len(e.Choices) > 0 {
			fmt.Fprintf(&sb, "Choices: %s\n", strings.Join(e.Choices, " | "))
		}
		fmt.Fprintf(&sb, "Action taken: %d\n", e.Action)
		if e.Reasoning != "" {
			fmt.Fprintf(&sb, "Reasoning: %s\n", e.Reasoning)
		}
		if e.ToolNote != "" {
			sb.WriteString(e.ToolNote + "\n")
		}
	}
	return sb.String()
}
