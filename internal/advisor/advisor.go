// Package advisor abstracts the external advisory service behind a narrow
// interface so the deterministic fallback and tests can stand in for it. The
// service is consulted with one text prompt and answers with one text blob;
// its reasoning is opaque to this program.
package advisor

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable wraps any advisory transport failure. Callers treat it as
// "no assistance" and fall back to deterministic repair; it is never fatal.
var ErrUnavailable = errors.New("advisory service unavailable")

// Advisor proposes environment spec text for a prompt.
type Advisor interface {
	Propose(ctx context.Context, prompt string) (string, error)
}

// StripFences removes markdown code fences the service sometimes wraps its
// answer in, leaving bare spec text.
func StripFences(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
