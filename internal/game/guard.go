// Package game implements the session state machine: numeric invariants,
// structured-reply extraction, and turn orchestration.
package game

import (
	"math/rand"

	"github.com/ashureev/lastlight/internal/domain"
)

// healthCap is fixed by the game model; power's cap is configurable.
const healthCap = 100

// checkpointRollMax bounds the boss-fight roll: a uniform integer in [0, 10].
const checkpointRollMax = 10

// Outcome is the result of a terminal-condition check.
type Outcome int

const (
	// OutcomeNone means the session may keep playing.
	OutcomeNone Outcome = iota
	// OutcomeWin means the player survived past the final day healthy enough.
	OutcomeWin
	// OutcomeLose means the player died or limped past the final day.
	OutcomeLose
)

// Roll draws a uniform integer in [0, n].
type Roll func(n int) int

// DefaultRoll draws from the process-wide PRNG.
func DefaultRoll(n int) int {
	return rand.Intn(n + 1)
}

// Limits carries the configured numeric bounds for a game.
type Limits struct {
	PowerCap           int
	MaxDays            int
	WinHealthThreshold int
}

// Clamp clips health and power to their valid ranges.
func (l Limits) Clamp(health, power int) (int, int) {
	return clip(health, 0, healthCap), clip(power, 0, l.PowerCap)
}

// CheckTerminal reports whether the session is already in a terminal numeric
// state. It is evaluated before a turn invokes the generator: a session that
// has lost or won must not take another generator-backed turn.
func (l Limits) CheckTerminal(health, currentDay int) Outcome {
	if health <= 0 {
		return OutcomeLose
	}
	if currentDay > l.MaxDays {
		if health > l.WinHealthThreshold {
			return OutcomeWin
		}
		return OutcomeLose
	}
	return OutcomeNone
}

// EvaluateCheckpoint runs one boss fight at a day boundary. The roll softens
// the boss's health requirement; power must be met outright.
func EvaluateCheckpoint(cp domain.Checkpoint, health, power int, roll Roll) bool {
	r := roll(checkpointRollMax)
	return power >= cp.BossPower && health >= cp.BossHealth-r
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
