// Package domain holds the core game state model.
package domain

import (
	"time"
)

// Role identifies the author of a history message.
type Role string

const (
	// RoleUser marks a player-authored message.
	RoleUser Role = "user"
	// RoleAssistant marks a generator-authored message.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an instruction message.
	RoleSystem Role = "system"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Status is the lifecycle state of a session. Terminal states are sticky:
// once a session leaves StatusActive it takes no further turns.
type Status string

const (
	// StatusActive allows turn processing.
	StatusActive Status = "active"
	// StatusWon means the player survived past the final day.
	StatusWon Status = "won"
	// StatusLost means the player died or failed a checkpoint.
	StatusLost Status = "lost"
	// StatusError means the session was terminated by an unrecoverable fault.
	StatusError Status = "error"
)

// Terminal reports whether the status admits no further turns.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Session is the server-held state for one player's play-through. It lives
// exactly as long as the player's connection; there is no persistence.
type Session struct {
	ID                string
	Health            int
	Power             int
	CurrentDay        int
	MessagesSentToday int
	History           []Message
	Status            Status
	Bootstrapped      bool
	CreatedAt         time.Time
}

// RecordMessage appends one entry to the conversation history.
func (s *Session) RecordMessage(role Role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
}
