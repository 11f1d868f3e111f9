// Package eventlog records structured session events for diagnosis of
// prompt drift and extraction failures. Logging failures are never fatal.
package eventlog

import (
	"time"
)

// Kind categorizes a recorded event.
type Kind string

const (
	// KindConnect marks a new session.
	KindConnect Kind = "connect"
	// KindDisconnect marks session teardown.
	KindDisconnect Kind = "disconnect"
	// KindGeneratorOutput carries a raw generator response.
	KindGeneratorOutput Kind = "generator_output"
	// KindExtractionFailure carries a failed parse attempt.
	KindExtractionFailure Kind = "extraction_failure"
	// KindTerminalOutcome marks a session reaching a terminal state.
	KindTerminalOutcome Kind = "terminal_outcome"
	// KindStaleWrite marks a history append that raced a disconnect.
	KindStaleWrite Kind = "stale_write"
)

// Event is one structured log record.
type Event struct {
	Time      time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Payload   string    `json:"payload,omitempty"`
}

// Sink accepts events. Implementations must not block the caller and must
// tolerate being handed events after Close.
type Sink interface {
	Log(event Event)
	Close() error
}

// Nop discards all events.
type Nop struct{}

// Log discards the event.
func (Nop) Log(Event) {}

// Close is a no-op.
func (Nop) Close() error { return nil }
