package advisor

import (
	"context"
	"fmt"
	"log"
	"time"

	genai "google.golang.org/genai"
)

const proposeAttempts = 3

// Gemini is a thin wrapper around the official genai client.
type Gemini struct {
	cli   *genai.Client
	model string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create advisory client: %w", err)
	}
	return &Gemini{cli: cli, model: model}, nil
}

func (g *Gemini) Name() string { return "Gemini:" + g.model }

// Propose sends the prompt and returns the raw text answer. Transient
// failures are retried with backoff; a still-failing call is reported as
// ErrUnavailable so the caller can engage the deterministic fallback.
func (g *Gemini) Propose(ctx context.Context, prompt string) (string, error) {
	log.Printf("advisor: request %d bytes to %s", len(prompt), g.model)

	var lastErr error
	for attempt := 0; attempt < proposeAttempts; attempt++ {
		resp, err := g.cli.Models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
			nil,
		)
		switch {
		case err != nil:
			lastErr = err
		case len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0:
			lastErr = fmt.Errorf("empty response from model")
		default:
			return resp.Candidates[0].Content.Parts[0].Text, nil
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
