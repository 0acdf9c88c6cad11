// File: internal/env/env.go
// Description: Presents a quest to agents in a uniform reset/step shape and
// hides jump-ID opacity behind a per-step 1-based choice map.
package env

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// InvalidActionError reports an out-of-range action. It is a programmer (or
// agent-contract) error: raising it does not consume a bridge step and it
// never reaches persistence as an outcome.
type InvalidActionError struct {
	Action  int
	Choices int
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("env: invalid action %d, valid range [1, %d]", e.Action, e.Choices)
}

// Bridge is the subprocess session the environment drives.
type Bridge interface {
	Start(ctx context.Context) (schemas.QuestState, error)
	Step(ctx context.Context, jumpID string) (schemas.QuestState, error)
	GetState(ctx context.Context) (schemas.QuestState, error)
	Close()
}

// Environment wraps a Bridge into reset → step(action) semantics.
// Not safe for concurrent use; each run owns a private environment.
type Environment struct {
	bridge  Bridge
	logger  *zap.Logger
	current schemas.QuestState
	started bool
}

// New wires an environment over the given bridge.
func New(b Bridge, logger *zap.Logger) *Environment {
	return &Environment{
		bridge: b,
		logger: logger.Named("env"),
	}
}

// Reset starts (or restarts observation of) the quest and returns the initial
// observation.
func (e *Environment) Reset(ctx context.Context) (schemas.Observation, error) {
	state, err := e.bridge.Start(ctx)
	if err != nil {
		return schemas.Observation{}, err
	}
	e.current = state
	e.started = true
	return e.observe(state), nil
}

// Step performs the 1-based action. The returned reward is 1.0 only when the
// quest terminates in a win; every intermediate step rewards 0.0.
func (e *Environment) Step(ctx context.Context, action int) (schemas.Observation, float64, bool, error) {
	if !e.started {
		return schemas.Observation{}, 0, false, fmt.Errorf("env: step before reset")
	}
	if action < 1 || action > len(e.current.Choices) {
		// Validation failure must not consume a bridge step.
		return schemas.Observation{}, 0, false, &InvalidActionError{Action: action, Choices: len(e.current.Choices)}
	}

	jumpID := e.current.Choices[action-1].JumpID
	state, err := e.bridge.Step(ctx, jumpID)
	if err != nil {
		return schemas.Observation{}, 0, false, err
	}
	e.current = state

	done := state.GameState.Terminal()
	reward := 0.0
	if state.GameState == schemas.GameWin {
		reward = 1.0
	}
	return e.observe(state), reward, done, nil
}

// Current returns the last observed state without touching the bridge.
func (e *Environment) Current() schemas.QuestState {
	return e.current
}

// Close releases the underlying bridge subprocess.
func (e *Environment) Close() {
	e.bridge.Close()
}

// observe renders a QuestState for agent consumption, building the fresh
// 1-based choice map.
func (e *Environment) observe(state schemas.QuestState) schemas.Observation {
	rendered := make([]string, len(state.Choices))
	choiceMap := make(map[int]string, len(state.Choices))
	for i, c := range state.Choices {
		rendered[i] = fmt.Sprintf("%d. %s", i+1, c.Text)
		choiceMap[i+1] = c.JumpID
	}
	return schemas.Observation{
		LocationID:      state.LocationID,
		Text:            state.Text,
		Choices:         state.Choices,
		ChoicesRendered: rendered,
		ParamsState:     state.ParamsState,
		ChoiceMap:       choiceMap,
		GameState:       state.GameState,
	}
}

// RenderText formats an observation the way prompts and step records consume
// it: narrative text, status panel, then the numbered action list.
func RenderText(obs schemas.Observation) string {
	var sb strings.Builder
	sb.WriteString(obs.Text)
	if len(obs.ParamsState) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Join(obs.ParamsState, "\n"))
	}
	if len(obs.ChoicesRendered) > 0 {
		sb.WriteString("\n\nAvailable actions:\n")
		sb.WriteString(strings.Join(obs.ChoicesRendered, "\n"))
	}
	return sb.String()
}
