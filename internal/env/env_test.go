package env_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/env"
)

// scriptedBridge replays a fixed quest graph keyed by jump ID.
type scriptedBridge struct {
	initial schemas.QuestState
	states  map[string]schemas.QuestState
	current schemas.QuestState
	steps   int
	closed  bool
}

func (b *scriptedBridge) Start(context.Context) (schemas.QuestState, error) {
	b.current = b.initial
	return b.initial, nil
}

func (b *scriptedBridge) Step(_ context.Context, jumpID string) (schemas.QuestState, error) {
	next, ok := b.states[jumpID]
	if !ok {
		return schemas.QuestState{}, fmt.Errorf("no state for jump %s", jumpID)
	}
	b.steps++
	b.current = next
	return next, nil
}

func (b *scriptedBridge) GetState(context.Context) (schemas.QuestState, error) {
	return b.current, nil
}

func (b *scriptedBridge) Close() { b.closed = true }

func twoChoiceBridge() *scriptedBridge {
	return &scriptedBridge{
		initial: schemas.QuestState{
			LocationID:  "1",
			Text:        "A",
			Choices:     []schemas.Choice{{JumpID: "10", Text: "x"}, {JumpID: "11", Text: "y"}},
			ParamsState: []string{"Health: 5"},
			GameState:   schemas.GameRunning,
		},
		states: map[string]schemas.QuestState{
			"10": {
				LocationID: "2",
				Text:       "B",
				Choices:    []schemas.Choice{{JumpID: "20", Text: "z"}},
				GameState:  schemas.GameRunning,
			},
			"20": {
				LocationID: "3",
				Text:       "End",
				GameState:  schemas.GameWin,
			},
			"11": {
				LocationID: "4",
				Text:       "Ouch",
				GameState:  schemas.GameDead,
			},
		},
	}
}

func TestResetBuildsChoiceMap(t *testing.T) {
	e := env.New(twoChoiceBridge(), zap.NewNop())

	obs, err := e.Reset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1. x", "2. y"}, obs.ChoicesRendered)
	assert.Equal(t, map[int]string{1: "10", 2: "11"}, obs.ChoiceMap)
	assert.Equal(t, schemas.GameRunning, obs.GameState)
}

func TestStepMapsActionToJump(t *testing.T) {
	bridge := twoChoiceBridge()
	e := env.New(bridge, zap.NewNop())

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	obs, reward, done, err := e.Step(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "2", obs.LocationID)
	assert.Zero(t, reward, "intermediate steps reward 0.0")
	assert.False(t, done)

	obs, reward, done, err = e.Step(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, schemas.GameWin, obs.GameState)
	assert.Equal(t, 1.0, reward, "win rewards 1.0")
	assert.True(t, done)
}

func TestLossTerminatesWithZeroReward(t *testing.T) {
	e := env.New(twoChoiceBridge(), zap.NewNop())

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	obs, reward, done, err := e.Step(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, schemas.GameDead, obs.GameState)
	assert.Zero(t, reward)
	assert.True(t, done)
}

func TestInvalidActionDoesNotConsumeBridgeStep(t *testing.T) {
	bridge := twoChoiceBridge()
	e := env.New(bridge, zap.NewNop())

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	for _, action := range []int{0, -1, 3} {
		_, _, _, err := e.Step(context.Background(), action)
		var invalid *env.InvalidActionError
		require.ErrorAs(t, err, &invalid, "action %d", action)
		assert.Equal(t, action, invalid.Action)
	}
	assert.Zero(t, bridge.steps, "validation failures must not reach the bridge")
}

func TestStepBeforeResetFails(t *testing.T) {
	e := env.New(twoChoiceBridge(), zap.NewNop())
	_, _, _, err := e.Step(context.Background(), 1)
	require.Error(t, err)
}

func TestCloseReleasesBridge(t *testing.T) {
	bridge := twoChoiceBridge()
	e := env.New(bridge, zap.NewNop())
	e.Close()
	assert.True(t, bridge.closed)
}

func TestRenderText(t *testing.T) {
	e := env.New(twoChoiceBridge(), zap.NewNop())
	obs, err := e.Reset(context.Background())
	require.NoError(t, err)

	text := env.RenderText(obs)
	assert.Contains(t, text, "A")
	assert.Contains(t, text, "Health: 5")
	assert.Contains(t, text, "Available actions:\n1. x\n2. y")
}
