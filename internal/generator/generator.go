// Package generator wraps the external text-generation provider.
package generator

import (
	"context"
	"errors"

	"github.com/ashureev/lastlight/internal/domain"
)

// ErrUnavailable indicates a transport or quota failure at the provider.
// Callers treat it like a malformed reply: retry, then fall back.
var ErrUnavailable = errors.New("generator unavailable")

// Generator produces narrative text for a turn. The instruction carries the
// machine-readable output-shape directive; history is replayed verbatim as
// conversational context.
type Generator interface {
	Generate(ctx context.Context, instruction string, history []domain.Message, userMessage string) (string, error)
}
