// File: internal/bridge/bridge.go
// Description: Drives one quest interpreter subprocess over a line-delimited
// JSON protocol: commands in on stdin, one JSON state object per line out on
// stdout, with tolerance for interleaved non-JSON log lines.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
	"github.com/yourconscience/llm-quest-benchmark/internal/config"
)

// jsonAPI is the hot-path JSON decoder for interpreter output lines.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// maxLineBytes bounds a single stdout line; quest texts are small but the
	// interpreter is not trusted.
	maxLineBytes = 4 << 20

	// maxDiagnostics bounds the retained non-JSON stdout lines.
	maxDiagnostics = 64

	// maxStderrBytes bounds the retained stderr tail.
	maxStderrBytes = 16 << 10
)

// cmdGetState is the idempotent state query command of the wire protocol.
const cmdGetState = "get_state"

// Bridge owns one interpreter subprocess for the lifetime of a run.
// It is not safe for concurrent use; a run drives its bridge sequentially.
type Bridge struct {
	cfg       config.EngineConfig
	questPath string
	logger    *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	exited chan struct{}

	stderrMu   sync.Mutex
	stderrBuf  []byte
	stderrDone chan struct{}

	diagnostics []string

	closeOnce sync.Once
	closed    bool
	waitErr   error
}

// New prepares a bridge for the given quest file. The subprocess is not
// spawned until Start.
func New(cfg config.EngineConfig, questPath string, logger *zap.Logger) *Bridge {
	return &Bridge{
		cfg:       cfg,
		questPath: questPath,
		logger:    logger.Named("bridge").With(zap.String("quest", questPath)),
	}
}

// Start spawns the interpreter, performs the startup preflight, and returns
// the initial quest state. A failure to reach the subprocess or to parse the
// first state surfaces as *StartupError with the captured stderr fragment.
func (b *Bridge) Start(ctx context.Context) (schemas.QuestState, error) {
	args := append(append([]string{}, b.cfg.Args...), b.questPath)
	if b.cfg.Language != "" {
		args = append(args, "--lang", b.cfg.Language)
	}
	cmd := exec.Command(b.cfg.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return schemas.QuestState{}, &StartupError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return schemas.QuestState{}, &StartupError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return schemas.QuestState{}, &StartupError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return schemas.QuestState{}, &StartupError{Err: fmt.Errorf("spawn %q: %w", b.cfg.Command, err)}
	}

	b.cmd = cmd
	b.stdin = stdin
	b.lines = make(chan string, 16)
	b.exited = make(chan struct{})
	b.stderrDone = make(chan struct{})

	go b.readStdout(stdout)
	go b.readStderr(stderr)
	go func() {
		b.waitErr = cmd.Wait()
		close(b.exited)
	}()

	b.logger.Debug("Interpreter subprocess started",
		zap.String("command", b.cfg.Command),
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid))

	state, err := b.readState(ctx)
	if err != nil {
		b.Close()
		return schemas.QuestState{}, &StartupError{Stderr: b.stderrTail(), Err: err}
	}
	return state, nil
}

// Step sends one jump command and returns the resulting state.
func (b *Bridge) Step(ctx context.Context, jumpID string) (schemas.QuestState, error) {
	if err := b.send(jumpID); err != nil {
		return schemas.QuestState{}, err
	}
	return b.readState(ctx)
}

// GetState re-emits the current state without advancing the quest.
func (b *Bridge) GetState(ctx context.Context) (schemas.QuestState, error) {
	if err := b.send(cmdGetState); err != nil {
		return schemas.QuestState{}, err
	}
	return b.readState(ctx)
}

// Diagnostics returns the non-JSON stdout lines buffered so far.
func (b *Bridge) Diagnostics() []string {
	out := make([]string, len(b.diagnostics))
	copy(out, b.diagnostics)
	return out
}

// Close terminates the subprocess: graceful signal first, force-kill after
// the grace period. Safe to call multiple times and on any exit path of the
// run loop. Output arriving after Close is discarded by the reader goroutine.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.closed = true
		if b.cmd == nil || b.cmd.Process == nil {
			return
		}
		if b.stdin != nil {
			_ = b.stdin.Close()
		}
		b.terminate()

		grace := b.cfg.GracePeriod
		if grace <= 0 {
			grace = 3 * time.Second
		}
		select {
		case <-b.exited:
		case <-time.After(grace):
			b.logger.Warn("Interpreter did not exit within grace period, killing")
			_ = b.cmd.Process.Kill()
			<-b.exited
		}
		b.logger.Debug("Interpreter subprocess closed")
	})
}

// send writes one command line to the subprocess.
func (b *Bridge) send(command string) error {
	if b.closed {
		return ErrClosed
	}
	if b.cmd == nil {
		return &CrashedError{Err: fmt.Errorf("bridge not started")}
	}
	select {
	case <-b.exited:
		return &CrashedError{Stderr: b.stderrTail(), Err: b.exitErr()}
	default:
	}
	if _, err := io.WriteString(b.stdin, command+"\n"); err != nil {
		return &CrashedError{Stderr: b.stderrTail(), Err: fmt.Errorf("write command: %w", err)}
	}
	return nil
}

// readState consumes stdout lines until one parses as a schema-matching JSON
// object, buffering everything else as diagnostics. The whole read is bounded
// by the configured read budget.
func (b *Bridge) readState(ctx context.Context) (schemas.QuestState, error) {
	budget := b.cfg.ReadTimeout
	if budget <= 0 {
		budget = 10 * time.Second
	}
	deadline := time.NewTimer(budget)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return schemas.QuestState{}, ctx.Err()
		case <-deadline.C:
			return schemas.QuestState{}, ErrTimeout
		case line, ok := <-b.lines:
			if !ok {
				// Stdout closed under us: the subprocess is gone. An absent
				// reply is an explicit failure, never a terminal state.
				return schemas.QuestState{}, &CrashedError{Stderr: b.stderrTail(), Err: b.exitErr()}
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			var raw rawMessage
			if err := jsonAPI.UnmarshalFromString(trimmed, &raw); err != nil || !strings.HasPrefix(trimmed, "{") {
				// Ad-hoc interpreter logging (autojump traces and friends) is
				// data, not an error.
				b.bufferDiagnostic(trimmed)
				continue
			}
			state, err := raw.toQuestState()
			if err != nil {
				return schemas.QuestState{}, &ProtocolError{Line: trimmed, Err: err}
			}
			return state, nil
		}
	}
}

func (b *Bridge) bufferDiagnostic(line string) {
	b.logger.Debug("Interpreter emitted non-JSON stdout line", zap.String("line", line))
	if len(b.diagnostics) >= maxDiagnostics {
		copy(b.diagnostics, b.diagnostics[1:])
		b.diagnostics = b.diagnostics[:maxDiagnostics-1]
	}
	b.diagnostics = append(b.diagnostics, line)
}

// readStdout pumps stdout lines into the line channel until EOF.
func (b *Bridge) readStdout(r io.Reader) {
	defer close(b.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)
	for scanner.Scan() {
		select {
		case b.lines <- scanner.Text():
		case <-b.exited:
			// Late output after termination is discarded.
			return
		}
	}
}

// readStderr retains a bounded tail of stderr for error reporting.
func (b *Bridge) readStderr(r io.Reader) {
	defer close(b.stderrDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 8<<10), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		b.stderrMu.Lock()
		b.stderrBuf = append(b.stderrBuf, line...)
		b.stderrBuf = append(b.stderrBuf, '\n')
		if len(b.stderrBuf) > maxStderrBytes {
			b.stderrBuf = b.stderrBuf[len(b.stderrBuf)-maxStderrBytes:]
		}
		b.stderrMu.Unlock()
	}
}

func (b *Bridge) stderrTail() string {
	// Give the stderr reader a moment to drain after a crash so the captured
	// fragment makes it into the error.
	if b.stderrDone != nil {
		select {
		case <-b.stderrDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
	b.stderrMu.Lock()
	defer b.stderrMu.Unlock()
	return strings.TrimSpace(string(b.stderrBuf))
}

func (b *Bridge) exitErr() error {
	select {
	case <-b.exited:
		if b.waitErr != nil {
			return b.waitErr
		}
		return fmt.Errorf("process exited")
	default:
		return fmt.Errorf("stdout closed")
	}
}

// -- Wire format --

// rawMessage is the line shape emitted by the interpreter:
// {state: {text, choices[], paramsState?, gameState}, saving: {locationId}}.
type rawMessage struct {
	State  *rawState  `json:"state"`
	Saving *rawSaving `json:"saving"`
}

type rawState struct {
	Text        string      `json:"text"`
	Choices     []rawChoice `json:"choices"`
	ParamsState []string    `json:"paramsState"`
	GameState   string      `json:"gameState"`
}

type rawChoice struct {
	JumpID json.Number `json:"jumpId"`
	Text   string      `json:"text"`
}

type rawSaving struct {
	LocationID json.Number `json:"locationId"`
}

// toQuestState validates the wire message and normalizes its text payloads.
func (m rawMessage) toQuestState() (schemas.QuestState, error) {
	if m.State == nil || m.Saving == nil {
		return schemas.QuestState{}, fmt.Errorf("missing state or saving object")
	}

	choices := make([]schemas.Choice, len(m.State.Choices))
	for i, c := range m.State.Choices {
		if c.JumpID.String() == "" {
			return schemas.QuestState{}, fmt.Errorf("choice %d missing jumpId", i)
		}
		choices[i] = schemas.Choice{
			JumpID: c.JumpID.String(),
			Text:   cleanText(c.Text),
		}
	}

	gameState := schemas.GameState(m.State.GameState)
	switch gameState {
	case schemas.GameRunning, schemas.GameWin, schemas.GameFail, schemas.GameDead:
	case "":
		// Older interpreter builds omit gameState while the quest is live.
		if len(choices) == 0 {
			return schemas.QuestState{}, fmt.Errorf("terminal state without gameState")
		}
		gameState = schemas.GameRunning
	default:
		return schemas.QuestState{}, fmt.Errorf("unknown gameState %q", m.State.GameState)
	}

	if (len(choices) > 0) != (gameState == schemas.GameRunning) {
		return schemas.QuestState{}, fmt.Errorf("choices/gameState mismatch: %d choices, state %s", len(choices), gameState)
	}

	return schemas.QuestState{
		LocationID:  m.Saving.LocationID.String(),
		Text:        cleanText(m.State.Text),
		Choices:     choices,
		ParamsState: m.State.ParamsState,
		GameState:   gameState,
	}, nil
}

// cleanText strips interpreter markup tags and normalizes line endings.
var textCleaner = strings.NewReplacer("<clr>", "", "<clrEnd>", "", "\r\n", "\n")

func cleanText(s string) string {
	return textCleaner.Replace(s)
}
