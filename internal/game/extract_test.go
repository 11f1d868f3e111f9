package game

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/lastlight/internal/domain"
	"github.com/ashureev/lastlight/internal/eventlog"
	"github.com/ashureev/lastlight/internal/generator"
)

// fakeGenerator replays scripted outputs and records the instructions it was
// given. A step with err non-nil simulates a provider failure.
type fakeGenerator struct {
	steps []fakeStep
	calls int

	instructions []string
	userMessages []string
}

type fakeStep struct {
	output string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, instruction string, _ []domain.Message, userMessage string) (string, error) {
	f.instructions = append(f.instructions, instruction)
	f.userMessages = append(f.userMessages, userMessage)
	step := f.steps[len(f.steps)-1]
	if f.calls < len(f.steps) {
		step = f.steps[f.calls]
	}
	f.calls++
	return step.output, step.err
}

func intPtr(v int) *int { return &v }

func TestParseReplyDirectJSON(t *testing.T) {
	t.Parallel()

	reply, err := ParseReply(`{"message":"you press on","health":90,"power":15}`)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Message != "you press on" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if reply.Health == nil || *reply.Health != 90 {
		t.Errorf("Unexpected health: %v", reply.Health)
	}
	if reply.Power == nil || *reply.Power != 15 {
		t.Errorf("Unexpected power: %v", reply.Power)
	}
}

func TestParseReplyOmittedFieldsMeanUnchanged(t *testing.T) {
	t.Parallel()

	reply, err := ParseReply(`{"message":"nothing changes"}`)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Health != nil || reply.Power != nil {
		t.Errorf("Expected nil health/power, got %v/%v", reply.Health, reply.Power)
	}
}

func TestParseReplyCodeFence(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"message\":\"fenced\",\"health\":70}\n```"
	reply, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Message != "fenced" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if reply.Health == nil || *reply.Health != 70 {
		t.Errorf("Unexpected health: %v", reply.Health)
	}
}

func TestParseReplyEmbeddedInProse(t *testing.T) {
	t.Parallel()

	// A well-formed record anywhere inside surrounding prose must be
	// recovered exactly on the relevant fields.
	raw := "Sure! Here is the result you asked for:\n" +
		`{"message":"the wolf lunges, teeth bared","health":64,"power":22}` +
		"\nLet me know if you need anything else."
	reply, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Message != "the wolf lunges, teeth bared" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if reply.Health == nil || *reply.Health != 64 {
		t.Errorf("Unexpected health: %v", reply.Health)
	}
	if reply.Power == nil || *reply.Power != 22 {
		t.Errorf("Unexpected power: %v", reply.Power)
	}
}

func TestParseReplyMissingMessageIsFailure(t *testing.T) {
	t.Parallel()

	_, err := ParseReply(`{"health":50,"power":20}`)
	if !errors.Is(err, ErrMalformedReply) {
		t.Errorf("Expected ErrMalformedReply, got %v", err)
	}
}

func TestParseReplyPlainProseIsFailure(t *testing.T) {
	t.Parallel()

	_, err := ParseReply("The hero walks into the sunset.")
	if !errors.Is(err, ErrMalformedReply) {
		t.Errorf("Expected ErrMalformedReply, got %v", err)
	}
}

func TestParseReplyOutOfRangeNumbersAreNotFailures(t *testing.T) {
	t.Parallel()

	reply, err := ParseReply(`{"message":"ok","health":150}`)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if reply.Health == nil || *reply.Health != 150 {
		t.Errorf("Expected raw health 150 to pass through extraction, got %v", reply.Health)
	}
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:         "sess-1",
		Health:     80,
		Power:      20,
		CurrentDay: 2,
		Status:     domain.StatusActive,
	}
}

func TestExtractorSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{steps: []fakeStep{
		{output: `{"message":"onward","health":75}`},
	}}
	ex := NewExtractor(gen, 3, 100, eventlog.Nop{})

	reply, err := ex.Extract(context.Background(), testSession(), "base instruction", nil, "go north")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if reply.Message != "onward" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if gen.calls != 1 {
		t.Errorf("Expected 1 generator call, got %d", gen.calls)
	}
	if gen.instructions[0] != "base instruction" {
		t.Errorf("First attempt must use the caller's instruction, got %q", gen.instructions[0])
	}
}

func TestExtractorRepairsMalformedReply(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{steps: []fakeStep{
		{output: "I cannot answer in JSON, sorry."},
		{output: `{"message":"repaired","power":25}`},
	}}
	ex := NewExtractor(gen, 3, 100, eventlog.Nop{})

	sess := testSession()
	reply, err := ex.Extract(context.Background(), sess, "base instruction", nil, "go north")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if reply.Message != "repaired" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if gen.calls != 2 {
		t.Fatalf("Expected 2 generator calls, got %d", gen.calls)
	}

	// The retry must carry a fresh corrective instruction with the last
	// known state, not the original instruction grown by accumulation.
	repair := gen.instructions[1]
	if repair == "base instruction" {
		t.Error("Retry reused the original instruction without correction")
	}
	if !strings.Contains(repair, "could not be parsed") {
		t.Errorf("Repair instruction missing corrective text: %q", repair)
	}
	if !strings.Contains(repair, "health is 80") || !strings.Contains(repair, "power is 20") {
		t.Errorf("Repair instruction missing last known state: %q", repair)
	}
}

func TestExtractorExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{steps: []fakeStep{
		{output: "prose, not JSON"},
		{output: "still prose"},
		{output: "more prose"},
	}}
	ex := NewExtractor(gen, 3, 100, eventlog.Nop{})

	_, err := ex.Extract(context.Background(), testSession(), "base instruction", nil, "go north")
	if !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("Expected ErrRetryBudgetExhausted, got %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("Expected exactly 3 generator calls, got %d", gen.calls)
	}
}

func TestExtractorCountsProviderFailuresAgainstBudget(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{steps: []fakeStep{
		{err: generator.ErrUnavailable},
		{output: `{"message":"recovered"}`},
	}}
	ex := NewExtractor(gen, 2, 100, eventlog.Nop{})

	reply, err := ex.Extract(context.Background(), testSession(), "base instruction", nil, "go north")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if reply.Message != "recovered" {
		t.Errorf("Unexpected message: %q", reply.Message)
	}
	if gen.calls != 2 {
		t.Errorf("Expected 2 generator calls, got %d", gen.calls)
	}
}

func TestExtractorAllProviderFailures(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{steps: []fakeStep{
		{err: generator.ErrUnavailable},
	}}
	ex := NewExtractor(gen, 3, 100, eventlog.Nop{})

	_, err := ex.Extract(context.Background(), testSession(), "base instruction", nil, "go north")
	if !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("Expected ErrRetryBudgetExhausted, got %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("Expected 3 generator calls, got %d", gen.calls)
	}
}
