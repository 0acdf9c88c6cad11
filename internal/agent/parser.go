// File: internal/agent/parser.go
// Description: Parses the structured JSON reply contract out of raw model
// output: strict first, then tolerant repair for fenced or truncated JSON.
package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// reply mirrors the contract the model is prompted for:
// {analysis?: string, reasoning?: string, result: integer}.
type reply struct {
	Analysis  string `json:"analysis"`
	Reasoning string `json:"reasoning"`
	Result    *int   `json:"result"`
}

var (
	fencePattern     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	resultPattern    = regexp.MustCompile(`"result"\s*:\s*(-?\d+)`)
	reasoningPattern = regexp.MustCompile(`"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)`)
	analysisPattern  = regexp.MustCompile(`"analysis"\s*:\s*"((?:[^"\\]|\\.)*)`)
)

// parseReply extracts the decision from raw model output. maxResult bounds
// the valid result range. On failure it returns whatever partial reasoning
// could be recovered alongside the error, so retries can preserve it.
func parseReply(raw string, maxResult int) (reply, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reply{}, fmt.Errorf("empty response")
	}

	// Stage 1: strict parse.
	if r, ok := tryUnmarshal(raw); ok {
		return validate(r, maxResult)
	}

	// Stage 2: strip code fences.
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		if r, ok := tryUnmarshal(m[1]); ok {
			return validate(r, maxResult)
		}
		raw = m[1]
	}

	// Stage 3: outermost brace substring.
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		if r, ok := tryUnmarshal(raw[start : end+1]); ok {
			return validate(r, maxResult)
		}
	}

	// Stage 4: scavenge fields out of truncated JSON by key match.
	r := reply{
		Reasoning: scavengeString(reasoningPattern, raw),
		Analysis:  scavengeString(analysisPattern, raw),
	}
	if m := resultPattern.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			r.Result = &n
		}
	}
	if r.Result != nil {
		return validate(r, maxResult)
	}
	return normalize(r), fmt.Errorf("no result field recoverable from response")
}

func tryUnmarshal(s string) (reply, bool) {
	var r reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return reply{}, false
	}
	return r, true
}

func validate(r reply, maxResult int) (reply, error) {
	r = normalize(r)
	if r.Result == nil {
		return r, fmt.Errorf("result field missing")
	}
	if *r.Result < 1 || *r.Result > maxResult {
		return r, fmt.Errorf("result %d out of range [1, %d]", *r.Result, maxResult)
	}
	return r, nil
}

// normalize promotes analysis to reasoning when reasoning is absent, so step
// records never carry an opaque raw-response fallback as the sole rationale.
func normalize(r reply) reply {
	if r.Reasoning == "" && r.Analysis != "" {
		r.Reasoning = r.Analysis
	}
	return r
}

func scavengeString(p *regexp.Regexp, raw string) string {
	m := p.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	var out string
	// The capture may be a truncated JSON string; unquoting the whole thing
	// can fail, so fall back to the raw capture.
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &out); err != nil {
		return m[1]
	}
	return out
}
