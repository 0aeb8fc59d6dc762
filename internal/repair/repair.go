// Package repair drives the bounded create/diagnose/rewrite cycle against an
// environment spec: realize it, and on failure ask the advisory service for a
// rewritten spec (the deterministic fallback stands in when advice stalls),
// up to a fixed attempt budget.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/envsmith/envsmith/internal/advisor"
	"github.com/envsmith/envsmith/internal/conda"
	"github.com/envsmith/envsmith/internal/envspec"
)

// State is one node of the repair state machine.
type State string

const (
	StateCreated    State = "created"
	StateAttempting State = "attempting"
	StateDiagnosing State = "diagnosing"
	StateRepairing  State = "repairing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// ErrRealization is the terminal error once the attempt budget is exhausted.
var ErrRealization = errors.New("environment realization failed")

// Realizer materializes a spec file into a named environment. Satisfied by
// *conda.Executor; tests substitute stubs.
type Realizer interface {
	CreateEnvironment(ctx context.Context, specPath, name string) (conda.Result, error)
}

// Event is one observed transition, surfaced to the session journal.
type Event struct {
	State   State
	Attempt int
	Message string
}

// Loop holds the fixed collaborators for one repair session. All transitions
// are synchronous and single-threaded; there are no concurrent attempts.
type Loop struct {
	Realizer      Realizer
	Advisor       advisor.Advisor // nil means fallback-only
	MaxAttempts   int
	SpecPath      string
	EnvName       string
	SystemContext string
	OnEvent       func(Event) // optional
}

// Outcome is the terminal result of a session.
type Outcome struct {
	State     State
	Attempts  int
	FinalSpec envspec.Spec
	LastError string
	Memory    *Memory
}

// Run executes the cycle starting from the seed spec, which must already be
// written to l.SpecPath. It always terminates in StateSucceeded or
// StateFailed within l.MaxAttempts realization attempts; the non-nil error
// return carries ErrRealization only for the Failed terminal.
func (l *Loop) Run(ctx context.Context, seed envspec.Spec) (Outcome, error) {
	mem := &Memory{}
	current := seed
	l.emit(Event{State: StateCreated, Message: "seed spec loaded"})

	var lastErr string
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		l.emit(Event{State: StateAttempting, Attempt: attempt, Message: "realizing environment"})
		res, runErr := l.Realizer.CreateEnvironment(ctx, l.SpecPath, l.EnvName)
		if runErr == nil && res.ExitCode == 0 {
			l.emit(Event{State: StateSucceeded, Attempt: attempt, Message: "environment realized"})
			return Outcome{State: StateSucceeded, Attempts: attempt, FinalSpec: current, Memory: mem}, nil
		}

		lastErr = res.CombinedOutput()
		if lastErr == "" && runErr != nil {
			lastErr = runErr.Error()
		}
		l.emit(Event{State: StateDiagnosing, Attempt: attempt, Message: clipOneLine(lastErr)})
		if attempt == l.MaxAttempts {
			break
		}

		candidate, change := l.diagnose(ctx, current, lastErr, mem)
		l.emit(Event{State: StateRepairing, Attempt: attempt, Message: change})

		text, err := candidate.Render()
		if err != nil {
			return Outcome{State: StateFailed, Attempts: attempt, FinalSpec: current, LastError: lastErr, Memory: mem},
				fmt.Errorf("render repaired spec: %w", err)
		}
		if err := envspec.WriteFile(l.SpecPath, text); err != nil {
			return Outcome{State: StateFailed, Attempts: attempt, FinalSpec: current, LastError: lastErr, Memory: mem},
				fmt.Errorf("write repaired spec: %w", err)
		}
		mem.Append(lastErr, change)
		current = candidate
	}

	l.emit(Event{State: StateFailed, Attempt: l.MaxAttempts, Message: clipOneLine(lastErr)})
	return Outcome{State: StateFailed, Attempts: l.MaxAttempts, FinalSpec: current, LastError: lastErr, Memory: mem},
		fmt.Errorf("%w after %d attempts: %s", ErrRealization, l.MaxAttempts, clipOneLine(lastErr))
}

// diagnose produces the next candidate spec. The advisory service is asked
// first; a transport failure or a no-progress answer (textually identical to
// the current spec after normalization) engages the deterministic fallback.
func (l *Loop) diagnose(ctx context.Context, current envspec.Spec, errText string, mem *Memory) (envspec.Spec, string) {
	currentText, err := current.Render()
	if err != nil {
		log.Printf("repair: render current spec: %v", err)
		return Fallback(current, errText)
	}

	if l.Advisor == nil {
		return Fallback(current, errText)
	}

	prompt := advisor.RepairPrompt(l.SystemContext, currentText, errText, mem.Render())
	answer, err := l.Advisor.Propose(ctx, prompt)
	if err != nil {
		log.Printf("repair: advisory unavailable, engaging fallback: %v", err)
		return Fallback(current, errText)
	}

	proposed, err := envspec.Parse(advisor.StripFences(answer))
	if err != nil {
		log.Printf("repair: advisory answer unparsable, engaging fallback: %v", err)
		return Fallback(current, errText)
	}
	proposedText, err := proposed.Render()
	if err != nil || envspec.SameNormalized(currentText, proposedText) {
		log.Printf("repair: advisory made no progress, engaging fallback")
		return Fallback(current, errText)
	}
	return preserveEditables(current, proposed), "advisory rewrite applied"
}

// preserveEditables restores any editable-install entry the advisory answer
// dropped or rewrote; those entries are invariant across repair cycles.
func preserveEditables(current, proposed envspec.Spec) envspec.Spec {
	have := make(map[string]bool, len(proposed.Dependencies.Pip))
	for _, p := range proposed.Dependencies.Pip {
		have[p] = true
	}
	out := proposed
	for _, p := range current.Dependencies.Pip {
		if envspec.IsEditable(p) && !have[p] {
			out.Dependencies.Pip = append(out.Dependencies.Pip, p)
		}
	}
	return out
}

func (l *Loop) emit(e Event) {
	if l.OnEvent != nil {
		l.OnEvent(e)
	}
}

func clipOneLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
