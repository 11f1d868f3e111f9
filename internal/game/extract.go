package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/lastlight/internal/domain"
	"github.com/ashureev/lastlight/internal/eventlog"
	"github.com/ashureev/lastlight/internal/generator"
)

var (
	// ErrMalformedReply indicates generator text that could not be parsed
	// into a Reply, or a parsed record missing its message.
	ErrMalformedReply = errors.New("malformed generator reply")
	// ErrRetryBudgetExhausted indicates every extraction attempt for a turn
	// failed. The caller must fall back to a safe default reply.
	ErrRetryBudgetExhausted = errors.New("reply retry budget exhausted")
)

// Reply is the structured record the generator is asked to produce. Nil
// numeric fields mean "unchanged".
type Reply struct {
	Message string `json:"message"`
	Health  *int   `json:"health,omitempty"`
	Power   *int   `json:"power,omitempty"`
}

// ParseReply extracts a Reply from raw generator output. It tolerates code
// fences and surrounding prose; out-of-range numbers are NOT an error here,
// they are clamped later.
func ParseReply(raw string) (Reply, error) {
	text := stripFences(strings.TrimSpace(raw))

	var reply Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		// The record may be wrapped in prose: take the outermost braces.
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return Reply{}, fmt.Errorf("%w: no JSON object found", ErrMalformedReply)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
			return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
	}

	if strings.TrimSpace(reply.Message) == "" {
		return Reply{}, fmt.Errorf("%w: missing message field", ErrMalformedReply)
	}
	return reply, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") {
		return text
	}
	start := strings.Index(text, "\n") + 1
	end := strings.LastIndex(text, "\n```")
	if start > 0 && end >= start {
		return text[start:end]
	}
	return text
}

// Extractor turns arbitrary generator output into a validated Reply, asking
// the generator to repair malformed output up to a bounded number of
// attempts. Generator transport failures count against the same budget.
type Extractor struct {
	gen      generator.Generator
	attempts int
	powerCap int
	sink     eventlog.Sink
}

// NewExtractor creates an extractor with the given total attempt budget.
func NewExtractor(gen generator.Generator, attempts, powerCap int, sink eventlog.Sink) *Extractor {
	if attempts < 1 {
		attempts = 1
	}
	return &Extractor{
		gen:      gen,
		attempts: attempts,
		powerCap: powerCap,
		sink:     sink,
	}
}

// Extract runs the generate-parse-repair loop for one turn. The first attempt
// uses instruction as given; each retry gets a fresh corrective instruction
// derived from the session's last known state and the previous error.
func (e *Extractor) Extract(ctx context.Context, sess *domain.Session, instruction string, history []domain.Message, userMessage string) (Reply, error) {
	var lastErr error

	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			instruction = RepairInstruction(sess, e.powerCap, lastErr)
		}

		raw, err := e.gen.Generate(ctx, instruction, history, userMessage)
		if err != nil {
			lastErr = err
			e.sink.Log(eventlog.Event{
				SessionID: sess.ID,
				Kind:      eventlog.KindExtractionFailure,
				Payload:   fmt.Sprintf("attempt %d: %v", attempt, err),
			})
			continue
		}

		e.sink.Log(eventlog.Event{
			SessionID: sess.ID,
			Kind:      eventlog.KindGeneratorOutput,
			Payload:   raw,
		})

		reply, err := ParseReply(raw)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		e.sink.Log(eventlog.Event{
			SessionID: sess.ID,
			Kind:      eventlog.KindExtractionFailure,
			Payload:   fmt.Sprintf("attempt %d: %v", attempt, err),
		})
	}

	return Reply{}, fmt.Errorf("%w: %v", ErrRetryBudgetExhausted, lastErr)
}
