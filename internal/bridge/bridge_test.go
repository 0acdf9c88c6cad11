package bridge_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/bridge"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngineConfig points the bridge at this test binary re-invoked as a
// scripted interpreter (see TestHelperProcess).
func fakeEngineConfig(t *testing.T, mode string) config.EngineConfig {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("QUEST_FAKE_MODE", mode)
	return config.EngineConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess", "--"},
		ReadTimeout: 2 * time.Second,
		GracePeriod: time.Second,
	}
}

func newBridge(t *testing.T, mode string) *bridge.Bridge {
	t.Helper()
	b := bridge.New(fakeEngineConfig(t, mode), "fake.qm", zap.NewNop())
	t.Cleanup(b.Close)
	return b
}

func TestStartReturnsInitialState(t *testing.T) {
	b := newBridge(t, "clean")

	state, err := b.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1", state.LocationID)
	assert.Equal(t, "You stand at the crossroads.", state.Text, "markup tags must be stripped")
	assert.Equal(t, schemas.GameRunning, state.GameState)
	require.Len(t, state.Choices, 2)
	assert.Equal(t, "10", state.Choices[0].JumpID)
	assert.Equal(t, "go left", state.Choices[0].Text)
}

func TestStepToTerminalState(t *testing.T) {
	b := newBridge(t, "clean")

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	state, err := b.Step(context.Background(), "10")
	require.NoError(t, err)
	assert.Equal(t, "2", state.LocationID)
	require.Len(t, state.Choices, 1)

	state, err = b.Step(context.Background(), "20")
	require.NoError(t, err)
	assert.Equal(t, schemas.GameWin, state.GameState)
	assert.Empty(t, state.Choices)
}

func TestNoiseToleranceMatchesCleanTrace(t *testing.T) {
	clean := playThrough(t, "clean")
	noisy := playThrough(t, "noisy")
	assert.Equal(t, clean, noisy, "interleaved log lines must not change the state trace")
}

// playThrough drives the fixed fake quest to terminal and returns the states.
func playThrough(t *testing.T, mode string) []schemas.QuestState {
	t.Helper()
	b := newBridge(t, mode)

	var states []schemas.QuestState
	state, err := b.Start(context.Background())
	require.NoError(t, err)
	states = append(states, state)

	state, err = b.Step(context.Background(), "10")
	require.NoError(t, err)
	states = append(states, state)

	state, err = b.Step(context.Background(), "20")
	require.NoError(t, err)
	states = append(states, state)

	b.Close()
	return states
}

func TestNoisyDiagnosticsAreBuffered(t *testing.T) {
	b := newBridge(t, "noisy")

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	diags := b.Diagnostics()
	require.NotEmpty(t, diags)
	assert.Contains(t, diags[0], "[autojump]")
}

func TestGetStateIsIdempotent(t *testing.T) {
	b := newBridge(t, "clean")

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	first, err := b.GetState(context.Background())
	require.NoError(t, err)
	second, err := b.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStartupFailureCarriesStderr(t *testing.T) {
	b := newBridge(t, "startup_fail")

	_, err := b.Start(context.Background())
	require.Error(t, err)

	var startup *bridge.StartupError
	require.ErrorAs(t, err, &startup)
	assert.Contains(t, startup.Stderr, "cannot parse quest file")
}

func TestSilentInterpreterTimesOut(t *testing.T) {
	cfg := fakeEngineConfig(t, "silent")
	cfg.ReadTimeout = 300 * time.Millisecond
	b := bridge.New(cfg, "fake.qm", zap.NewNop())
	t.Cleanup(b.Close)

	_, err := b.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrTimeout)
}

func TestCrashDuringStep(t *testing.T) {
	b := newBridge(t, "crash_on_step")

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	_, err = b.Step(context.Background(), "10")
	require.Error(t, err)

	var crashed *bridge.CrashedError
	assert.ErrorAs(t, err, &crashed, "missing output must fail explicitly, not look terminal")
}

func TestMalformedSchemaIsProtocolError(t *testing.T) {
	b := newBridge(t, "bad_schema")

	_, err := b.Start(context.Background())
	require.Error(t, err)

	var startup *bridge.StartupError
	require.ErrorAs(t, err, &startup)
	var protocol *bridge.ProtocolError
	assert.True(t, errors.As(startup.Err, &protocol), "schema-invalid JSON is a protocol error, got %v", startup.Err)
}

func TestCommandAfterCloseFails(t *testing.T) {
	b := newBridge(t, "clean")

	_, err := b.Start(context.Background())
	require.NoError(t, err)
	b.Close()

	_, err = b.Step(context.Background(), "10")
	assert.ErrorIs(t, err, bridge.ErrClosed)
}

// TestHelperProcess is not a real test: it is the scripted fake interpreter
// the bridge tests spawn as a subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("QUEST_FAKE_MODE")
	noisy := mode == "noisy"

	stateA := `{"state":{"text":"<clr>You stand at the crossroads.<clrEnd>","choices":[{"jumpId":10,"text":"<clr>go left<clrEnd>"},{"jumpId":11,"text":"go right"}],"paramsState":["Health: 10"],"gameState":"running"},"saving":{"locationId":1}}`
	stateB := `{"state":{"text":"A narrow path.","choices":[{"jumpId":20,"text":"continue"}],"gameState":"running"},"saving":{"locationId":2}}`
	stateWin := `{"state":{"text":"You made it.","choices":[],"gameState":"win"},"saving":{"locationId":3}}`

	emit := func(s string) {
		if noisy {
			fmt.Println("[autojump] diagnostic ignore me")
		}
		fmt.Println(s)
	}

	switch mode {
	case "startup_fail":
		fmt.Fprintln(os.Stderr, "error: cannot parse quest file")
		os.Exit(1)
	case "silent":
		time.Sleep(5 * time.Second)
		return
	case "bad_schema":
		fmt.Println(`{"unexpected":"shape"}`)
		time.Sleep(time.Second)
		return
	}

	current := stateA
	emit(current)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case mode == "crash_on_step":
			fmt.Fprintln(os.Stderr, "panic: interpreter blew up")
			os.Exit(2)
		case cmd == "get_state":
			emit(current)
		case cmd == "10":
			current = stateB
			emit(current)
		case cmd == "20":
			current = stateWin
			emit(current)
		default:
			fmt.Fprintf(os.Stderr, "{\"error\": \"unknown jump %s\"}\n", cmd)
		}
	}
}
