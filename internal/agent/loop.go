// File: internal/agent/loop.go
// Description: Per-run loop detection over fingerprints of semantically
// equivalent states.
package agent

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/yourconscience/llm-quest-benchmark/api/schemas"
)

// Loop-escape defaults; overridable through agent defaults config.
const (
	DefaultLoopVisitLimit  = 3
	DefaultLoopStreakLimit = 2
)

// OverrideLoopEscape is recorded on a step when the tracker rotated the
// model's repeated action away.
const OverrideLoopEscape = "loop_escape"

type streakKey struct {
	fingerprint uint64
	action      int
}

// loopTracker maintains visit counts per state fingerprint and streaks of
// repeating the same action at the same state.
type loopTracker struct {
	visitLimit  int
	streakLimit int

	visits     map[uint64]int
	streaks    map[streakKey]int
	lastAction map[uint64]int
}

func newLoopTracker(visitLimit, streakLimit int) *loopTracker {
	if visitLimit <= 0 {
		visitLimit = DefaultLoopVisitLimit
	}
	if streakLimit <= 0 {
		streakLimit = DefaultLoopStreakLimit
	}
	return &loopTracker{
		visitLimit:  visitLimit,
		streakLimit: streakLimit,
		visits:      make(map[uint64]int),
		streaks:     make(map[streakKey]int),
		lastAction:  make(map[uint64]int),
	}
}

// fingerprint hashes (location, params_state, sorted jump IDs). Params are
// folded in as a normalized string; their semantics beyond display are
// opaque here.
func fingerprint(obs schemas.Observation) uint64 {
	jumpIDs := make([]string, len(obs.Choices))
	for i, c := range obs.Choices {
		jumpIDs[i] = c.JumpID
	}
	sort.Strings(jumpIDs)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s",
		obs.LocationID,
		strings.Join(obs.ParamsState, "\x1f"),
		strings.Join(jumpIDs, "\x1f"))
	return h.Sum64()
}

// observe counts a visit and returns the state's fingerprint.
func (t *loopTracker) observe(obs schemas.Observation) uint64 {
	fp := fingerprint(obs)
	t.visits[fp]++
	return fp
}

// looping reports whether the visit and streak thresholds are both met for
// the state's last chosen action.
func (t *loopTracker) looping(fp uint64) bool {
	if t.visits[fp] < t.visitLimit {
		return false
	}
	last, ok := t.lastAction[fp]
	if !ok {
		return false
	}
	return t.streaks[streakKey{fp, last}] >= t.streakLimit
}

// repeatedAction returns the action whose streak triggered the loop, valid
// only when looping(fp) is true.
func (t *loopTracker) repeatedAction(fp uint64) int {
	return t.lastAction[fp]
}

// record notes the chosen action, extending or resetting the streak.
func (t *loopTracker) record(fp uint64, action int) {
	if last, ok := t.lastAction[fp]; ok && last != action {
		delete(t.streaks, streakKey{fp, last})
	}
	t.lastAction[fp] = action
	t.streaks[streakKey{fp, action}]++
}

// rotate picks the deterministic alternative: the smallest valid index that
// differs from the repeated action. Returns the original action when no
// alternative exists.
func rotate(repeated, choices int) int {
	for i := 1; i <= choices; i++ {
		if i != repeated {
			return i
		}
	}
	return repeated
}
