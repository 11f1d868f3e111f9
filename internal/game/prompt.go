package game

import (
	"fmt"

	"github.com/ashureev/lastlight/internal/domain"
)

const gameMasterPrompt = `You are the Game Master for "Last Light," a solo text-based survival RPG. The world has fallen dark; the player is one of the few still carrying a lantern, trying to outlast the final days before dawn returns. Your role is to narrate a grim, reactive world and roleplay every character the player meets.

Narrate consequences honestly. Reckless choices cost health. Clever or brave choices can raise power. The player CAN die from sufficiently bad decisions; do not shield them.`

const shapeDirective = `ALWAYS respond with a single JSON object and nothing else, in exactly this shape:
{"message": "<your narration>", "health": <integer 0-%d>, "power": <integer 0-%d>}
The "message" field is required. Include "health" or "power" ONLY when the turn changed them; omit a field to mean "unchanged". Never wrap the object in code fences or extra prose.`

const standingRules = `Rules you must never break:
- Never reset or restore health or power without a narrative cause in this very turn.
- If the player merely asks about their condition, echo the current values verbatim in the narration and omit the numeric fields.
- Small, earned changes only; no change larger than the scene justifies.`

// fallbackMessage is sent in place of narration when the generator could not
// produce a usable reply within the retry budget.
const fallbackMessage = "The lantern gutters and the world blurs for a moment. You shake your head clear; whatever was about to happen slips away. (The storyteller lost the thread - try that again.)"

const checkpointDefeatMessage = "Night falls, and the thing that has been following you finally steps into the lantern light. You are not strong enough. The light goes out."

// BuildInstruction composes the system instruction for one turn. It is a pure
// function of the session's current state.
func BuildInstruction(sess *domain.Session, powerCap int) string {
	return fmt.Sprintf(`%s

Current state: day %d, health %d, power %d, messages sent today %d.

%s

%s`,
		gameMasterPrompt,
		sess.CurrentDay, sess.Health, sess.Power, sess.MessagesSentToday,
		fmt.Sprintf(shapeDirective, healthCap, powerCap),
		standingRules,
	)
}

// RepairInstruction composes the corrective instruction for a retry after a
// malformed reply. Each retry gets a fresh instruction; nothing accumulates
// across attempts.
func RepairInstruction(sess *domain.Session, powerCap int, lastErr error) string {
	return fmt.Sprintf(`%s

Your previous reply could not be parsed (%v). The player's current health is %d and power is %d.

%s`,
		BuildInstruction(sess, powerCap),
		lastErr,
		sess.Health, sess.Power,
		`Reply again to the player's last message, as a single valid JSON object in the required shape.`,
	)
}

// OpeningNarration renders the session's opening scene. It is served for the
// "start" sentinel without a generator call.
func OpeningNarration(sess *domain.Session, maxDays int) string {
	return fmt.Sprintf(
		"The last light of day %d finds you alive, lantern in hand. Survive %d days and you may yet see the dawn. Your health is %d and your power is %d. The road ahead is dark - what do you do?",
		sess.CurrentDay, maxDays, sess.Health, sess.Power,
	)
}
