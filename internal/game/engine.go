package game

import (
	"context"
	"log/slog"

	"github.com/ashureev/lastlight/internal/domain"
	"github.com/ashureev/lastlight/internal/eventlog"
	"github.com/ashureev/lastlight/internal/generator"
	"github.com/ashureev/lastlight/internal/session"
)

// StartSentinel is the inbound message that requests the opening narration
// without a generator call. It does not consume the day quota.
const StartSentinel = "start"

const winNarration = "Dawn breaks. Against everything the dark threw at you, you are still standing, lantern high. You have survived the last night - the light holds."

const loseNarration = "Your legs give out and the lantern slips from your fingers. The dark closes over the place where you stood. Your journey ends here."

// TurnRequest is one inbound frame. Fields other than Message are advisory:
// they are honored only on the very first frame of a fresh session, to let a
// client bootstrap a game in progress; afterwards the server-held session is
// the single source of truth.
type TurnRequest struct {
	Message           string `json:"message"`
	Health            *int   `json:"health,omitempty"`
	Power             *int   `json:"power,omitempty"`
	CurrentDay        *int   `json:"currentDay,omitempty"`
	MessagesSentToday *int   `json:"messagesSentToday,omitempty"`
}

// Frame is one outbound frame. Status is set only on terminal frames.
type Frame struct {
	Message           string `json:"message"`
	Health            int    `json:"health"`
	Power             int    `json:"power"`
	CurrentDay        int    `json:"currentDay"`
	MessagesSentToday int    `json:"messagesSentToday"`
	Status            string `json:"status,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Limits         Limits
	MessagesPerDay int
	Checkpoints    []domain.Checkpoint
	RetryBudget    int
	Roll           Roll
}

// Engine orchestrates exactly one request/response exchange per inbound
// frame. Turns within a session are strictly sequential; the caller must
// never have two turns for the same session in flight.
type Engine struct {
	limits         Limits
	messagesPerDay int
	checkpoints    []domain.Checkpoint
	roll           Roll
	extractor      *Extractor
	store          *session.Store
	sink           eventlog.Sink
}

// NewEngine creates a turn engine.
func NewEngine(gen generator.Generator, store *session.Store, sink eventlog.Sink, opts Options) *Engine {
	roll := opts.Roll
	if roll == nil {
		roll = DefaultRoll
	}
	return &Engine{
		limits:         opts.Limits,
		messagesPerDay: opts.MessagesPerDay,
		checkpoints:    opts.Checkpoints,
		roll:           roll,
		extractor:      NewExtractor(gen, opts.RetryBudget, opts.Limits.PowerCap, sink),
		store:          store,
		sink:           sink,
	}
}

// HandleTurn processes one inbound frame for a session and returns the frame
// to send back. It never returns an error: every failure path ends in a
// well-formed frame.
func (e *Engine) HandleTurn(ctx context.Context, sess *domain.Session, req TurnRequest) Frame {
	// Terminal states are sticky; a finished session only echoes its outcome.
	if sess.Status.Terminal() {
		return e.frame(sess, terminalNarration(sess.Status))
	}

	e.bootstrap(sess, req)

	// A session already in a losing or winning numeric state must not take
	// another generator-backed turn.
	if outcome := e.limits.CheckTerminal(sess.Health, sess.CurrentDay); outcome != OutcomeNone {
		e.terminate(sess, outcome)
		return e.frame(sess, terminalNarration(sess.Status))
	}

	if req.Message == StartSentinel {
		opening := OpeningNarration(sess, e.limits.MaxDays)
		e.store.AppendHistory(sess.ID, domain.RoleAssistant, opening)
		return e.frame(sess, opening)
	}

	// Snapshot the context before this turn's message; the generator takes
	// the new user message separately.
	history := append([]domain.Message(nil), sess.History...)
	e.store.AppendHistory(sess.ID, domain.RoleUser, req.Message)

	instruction := BuildInstruction(sess, e.limits.PowerCap)
	reply, err := e.extractor.Extract(ctx, sess, instruction, history, req.Message)
	if err != nil {
		slog.Warn("Turn fell back to safe reply", "session_id", sess.ID, "error", err)
		reply = Reply{Message: fallbackMessage}
	}

	health := resolve(sess.Health, reply.Health)
	power := resolve(sess.Power, reply.Power)
	sess.Health, sess.Power = e.limits.Clamp(health, power)
	e.store.AppendHistory(sess.ID, domain.RoleAssistant, reply.Message)

	sess.MessagesSentToday++
	if sess.MessagesSentToday >= e.messagesPerDay {
		for _, cp := range e.checkpoints {
			if cp.Day != sess.CurrentDay {
				continue
			}
			if !EvaluateCheckpoint(cp, sess.Health, sess.Power, e.roll) {
				slog.Info("Checkpoint failed", "session_id", sess.ID, "day", cp.Day)
				e.terminate(sess, OutcomeLose)
				return e.frame(sess, checkpointDefeatMessage)
			}
		}
		sess.CurrentDay++
		sess.MessagesSentToday = 0
	}

	return e.frame(sess, reply.Message)
}

// bootstrap applies client-echoed advisory fields, clamped, on the first
// frame of a fresh session only.
func (e *Engine) bootstrap(sess *domain.Session, req TurnRequest) {
	if sess.Bootstrapped {
		return
	}
	sess.Bootstrapped = true

	health := resolve(sess.Health, req.Health)
	power := resolve(sess.Power, req.Power)
	sess.Health, sess.Power = e.limits.Clamp(health, power)

	if req.CurrentDay != nil && *req.CurrentDay >= 1 {
		sess.CurrentDay = *req.CurrentDay
	}
	if req.MessagesSentToday != nil && *req.MessagesSentToday >= 0 && *req.MessagesSentToday < e.messagesPerDay {
		sess.MessagesSentToday = *req.MessagesSentToday
	}
}

func (e *Engine) terminate(sess *domain.Session, outcome Outcome) {
	if outcome == OutcomeWin {
		sess.Status = domain.StatusWon
	} else {
		sess.Status = domain.StatusLost
	}
	slog.Info("Session reached terminal state",
		"session_id", sess.ID,
		"status", sess.Status,
		"day", sess.CurrentDay,
		"health", sess.Health,
		"power", sess.Power,
	)
	e.sink.Log(eventlog.Event{
		SessionID: sess.ID,
		Kind:      eventlog.KindTerminalOutcome,
		Payload:   string(sess.Status),
	})
}

func (e *Engine) frame(sess *domain.Session, message string) Frame {
	return Frame{
		Message:           message,
		Health:            sess.Health,
		Power:             sess.Power,
		CurrentDay:        sess.CurrentDay,
		MessagesSentToday: sess.MessagesSentToday,
		Status:            frameStatus(sess.Status),
	}
}

func terminalNarration(status domain.Status) string {
	if status == domain.StatusWon {
		return winNarration
	}
	return loseNarration
}

func frameStatus(status domain.Status) string {
	switch status {
	case domain.StatusWon:
		return "win"
	case domain.StatusLost:
		return "lose"
	case domain.StatusError:
		return "error"
	default:
		return ""
	}
}

func resolve(prior int, v *int) int {
	if v != nil {
		return *v
	}
	return prior
}
