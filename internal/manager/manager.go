// Package manager orchestrates the provisioning pipeline: preflight, root
// location, evidence collection, spec derivation, and the create/repair loop.
// It owns the session journal (sqlite) and the per-session event trail.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/envsmith/envsmith/internal/advisor"
	"github.com/envsmith/envsmith/internal/conda"
	"github.com/envsmith/envsmith/internal/config"
	"github.com/envsmith/envsmith/internal/envspec"
	"github.com/envsmith/envsmith/internal/evidence"
	"github.com/envsmith/envsmith/internal/logs"
	"github.com/envsmith/envsmith/internal/repair"
	"github.com/envsmith/envsmith/internal/rootfind"
	"github.com/envsmith/envsmith/internal/scan"
	store "github.com/envsmith/envsmith/internal/store/sqlite"
	"github.com/envsmith/envsmith/internal/syscheck"
)

// Source says how the environment spec came to be.
type Source string

const (
	// SourceExisting: an environment file already in the project was adopted.
	SourceExisting Source = "existing"
	// SourceDeclarations: declaration files were converted by the advisory
	// service.
	SourceDeclarations Source = "declarations"
	// SourceEvidence: the spec was built from scanned import evidence.
	SourceEvidence Source = "evidence"
	// SourceManual: the caller supplied the spec file directly.
	SourceManual Source = "manual"
)

// quickDecisionBytes is the minimum size for a declaration file to count as
// authoritative during the decision stage. Smaller files are usually stubs.
const quickDecisionBytes = 50

var (
	ErrPreflight    = errors.New("preflight checks failed")
	ErrRootNotFound = errors.New("no python project found")
)

// Realizer is the package-manager surface the pipeline needs. Satisfied by
// *conda.Executor.
type Realizer interface {
	CreateEnvironment(ctx context.Context, specPath, name string) (conda.Result, error)
	EnvironmentExists(ctx context.Context, name string) (bool, error)
	RemoveEnvironment(ctx context.Context, name string) error
}

type Manager struct {
	settings config.Settings
	store    *store.Store
	advisor  advisor.Advisor // nil means advisory routes are unavailable
	realizer Realizer        // nil means realization is unavailable

	// preflightFn is swapped out by tests; everything else goes through it.
	preflightFn func(ctx context.Context) (syscheck.Report, error)
}

func New(settings config.Settings, adv advisor.Advisor, realizer Realizer) (*Manager, error) {
	s, err := store.Open(settings.StateDir)
	if err != nil {
		return nil, err
	}
	m := &Manager{settings: settings, store: s, advisor: adv, realizer: realizer}
	m.preflightFn = m.preflight
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return m.store.Close()
}

type GenerateOptions struct {
	SourcePath    string
	DestPath      string // defaults to <effective root>/environment.yml
	EnvName       string
	PythonVersion string
	NoCreate      bool
}

type GenerateResult struct {
	SessionID     string
	Root          rootfind.Candidate
	Source        Source
	SpecPath      string
	EnvName       string
	PythonVersion string
	Outcome       *repair.Outcome // nil when NoCreate
}

// Generate runs the full pipeline against a source tree. The derived spec is
// written to disk before any realization attempt, so a failed or skipped
// create still leaves a usable environment file behind.
func (m *Manager) Generate(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	report, err := m.preflightFn(ctx)
	if err != nil {
		return GenerateResult{}, err
	}

	invocation, err := filepath.Abs(opts.SourcePath)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("resolve source path: %w", err)
	}
	root := rootfind.Locate(invocation)
	log.Printf("manager: effective root %s (score %d)", root.Path, root.Score)

	ev, records, err := scan.NewCollector().Collect(root.Path)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("collect evidence under %s: %w", root.Path, err)
	}
	if !hasPythonEvidence(records) {
		return GenerateResult{}, fmt.Errorf("%w under %s", ErrRootNotFound, invocation)
	}

	pyVersion := inferPythonVersion(opts.PythonVersion, records)
	projectName := filepath.Base(root.Path)

	spec, source, err := m.deriveSpec(ctx, records, ev, projectName, pyVersion)
	if err != nil {
		return GenerateResult{}, err
	}

	envName := envspec.SanitizeName(firstNonEmpty(opts.EnvName, spec.Name, projectName))
	spec.Name = envName
	spec = spec.EnsurePython(pyVersion)
	if root.Path != invocation {
		// The project installs from a subdirectory; pin it as an editable
		// install so the realized environment imports the local sources.
		spec = spec.AddEditableInstall(root.Path)
	}

	specPath := opts.DestPath
	if specPath == "" {
		specPath = filepath.Join(root.Path, "environment.yml")
	}
	text, err := spec.Render()
	if err != nil {
		return GenerateResult{}, err
	}
	if err := envspec.WriteFile(specPath, text); err != nil {
		return GenerateResult{}, fmt.Errorf("write %s: %w", specPath, err)
	}

	sessionID := newSessionID()
	res := GenerateResult{
		SessionID:     sessionID,
		Root:          root,
		Source:        source,
		SpecPath:      specPath,
		EnvName:       envName,
		PythonVersion: pyVersion,
	}
	if err := m.store.InsertSession(store.SessionRecord{
		SessionID:   sessionID,
		ProjectRoot: root.Path,
		SpecPath:    specPath,
		EnvName:     envName,
		State:       string(repair.StateCreated),
		Source:      string(source),
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return res, err
	}
	m.event(sessionID, logs.Event{Stage: "spec.write", EnvName: envName,
		Message: fmt.Sprintf("spec derived from %s, root %s", source, root.Path)})

	if opts.NoCreate {
		_ = m.store.UpdateSessionCompletion(sessionID, "written", 0, "")
		m.event(sessionID, logs.Event{Stage: "done", Message: "spec written, creation skipped"})
		return res, nil
	}

	outcome, err := m.realize(ctx, sessionID, specPath, envName, report.SystemContext(), spec)
	res.Outcome = &outcome
	return res, err
}

type CreateOptions struct {
	SpecPath string
	EnvName  string
}

// Create realizes an already-written spec file through the repair loop.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (GenerateResult, error) {
	report, err := m.preflightFn(ctx)
	if err != nil {
		return GenerateResult{}, err
	}
	spec, err := envspec.Load(opts.SpecPath)
	if err != nil {
		return GenerateResult{}, err
	}
	envName := envspec.SanitizeName(firstNonEmpty(opts.EnvName, spec.Name))

	sessionID := newSessionID()
	res := GenerateResult{
		SessionID: sessionID,
		Source:    SourceManual,
		SpecPath:  opts.SpecPath,
		EnvName:   envName,
	}
	if err := m.store.InsertSession(store.SessionRecord{
		SessionID:   sessionID,
		ProjectRoot: filepath.Dir(opts.SpecPath),
		SpecPath:    opts.SpecPath,
		EnvName:     envName,
		State:       string(repair.StateCreated),
		Source:      string(SourceManual),
		StartedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return res, err
	}

	outcome, err := m.realize(ctx, sessionID, opts.SpecPath, envName, report.SystemContext(), spec)
	res.Outcome = &outcome
	return res, err
}

// History lists past sessions, newest first.
func (m *Manager) History(limit int) ([]store.SessionRecord, error) {
	return m.store.ListSessions(limit)
}

func (m *Manager) Attempts(sessionID string) ([]store.AttemptRecord, error) {
	return m.store.ListAttempts(sessionID)
}

func (m *Manager) Events(sessionID string) ([]string, error) {
	return logs.ReadEvents(m.settings.StateDir, sessionID)
}

func (m *Manager) preflight(ctx context.Context) (syscheck.Report, error) {
	report := syscheck.Run(ctx)
	if !report.Passed {
		var failed []string
		for _, c := range report.Checks {
			if !c.OK {
				failed = append(failed, c.Name+": "+c.Message)
			}
		}
		return report, fmt.Errorf("%w: %s", ErrPreflight, strings.Join(failed, "; "))
	}
	return report, nil
}

// deriveSpec is the decision stage. An authoritative environment file in the
// tree is adopted verbatim; other sizable declarations are converted by the
// advisory service; otherwise the spec is built from scanned import evidence.
func (m *Manager) deriveSpec(ctx context.Context, records []scan.FileRecord, ev scan.Evidence, projectName, pyVersion string) (envspec.Spec, Source, error) {
	if rec, ok := existingEnvFile(records); ok {
		spec, err := envspec.Parse(rec.Content)
		if err == nil {
			log.Printf("manager: adopting existing %s", rec.RelPath)
			return spec, SourceExisting, nil
		}
		log.Printf("manager: existing %s unusable (%v), falling through", rec.RelPath, err)
	}

	if collected := collectDeclarations(records); collected != "" {
		spec, err := m.askAdvisor(ctx, advisor.BuildFromDeclarationsPrompt(projectName, pyVersion, collected))
		if err != nil {
			return envspec.Spec{}, "", err
		}
		return spec, SourceDeclarations, nil
	}

	payload := evidence.Select(records, ev, evidence.DefaultBudgets())
	accel := "none"
	if ev.AccelRequired {
		accel = "CUDA"
	}
	spec, err := m.askAdvisor(ctx, advisor.BuildFromEvidencePrompt(projectName, pyVersion, accel, payload.Text))
	if err != nil {
		return envspec.Spec{}, "", err
	}
	return spec, SourceEvidence, nil
}

func (m *Manager) askAdvisor(ctx context.Context, prompt string) (envspec.Spec, error) {
	if m.advisor == nil {
		return envspec.Spec{}, fmt.Errorf("advisory service not configured")
	}
	answer, err := m.advisor.Propose(ctx, prompt)
	if err != nil {
		return envspec.Spec{}, fmt.Errorf("build environment spec: %w", err)
	}
	spec, err := envspec.Parse(advisor.StripFences(answer))
	if err != nil {
		return envspec.Spec{}, fmt.Errorf("advisory answer is not a usable spec: %w", err)
	}
	return spec, nil
}

// realize drives the repair loop and journals every transition and attempt.
func (m *Manager) realize(ctx context.Context, sessionID, specPath, envName, sysCtx string, seed envspec.Spec) (repair.Outcome, error) {
	if m.realizer == nil {
		return repair.Outcome{}, fmt.Errorf("package manager unavailable, cannot realize %s", envName)
	}
	if exists, err := m.realizer.EnvironmentExists(ctx, envName); err == nil && exists {
		m.event(sessionID, logs.Event{Stage: "env.remove", EnvName: envName, Message: "removing pre-existing environment"})
		if err := m.realizer.RemoveEnvironment(ctx, envName); err != nil {
			log.Printf("manager: remove existing environment %s: %v", envName, err)
		}
	}

	loop := &repair.Loop{
		Realizer:      m.realizer,
		Advisor:       m.advisor,
		MaxAttempts:   m.settings.MaxRetries,
		SpecPath:      specPath,
		EnvName:       envName,
		SystemContext: sysCtx,
		OnEvent: func(e repair.Event) {
			m.event(sessionID, logs.Event{Stage: "repair." + string(e.State), Attempt: e.Attempt, EnvName: envName, Message: e.Message})
			_ = m.store.UpdateSessionState(sessionID, string(e.State))
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, m.settings.CreateTimeout)
	defer cancel()
	outcome, runErr := loop.Run(runCtx, seed)

	for i, rec := range outcome.Memory.Records() {
		_ = m.store.InsertAttempt(store.AttemptRecord{
			SessionID: sessionID,
			Attempt:   i + 1,
			Change:    rec.Change,
			Error:     firstLine(rec.Error),
		})
	}
	final := store.AttemptRecord{SessionID: sessionID, Attempt: outcome.Attempts}
	if outcome.State == repair.StateSucceeded {
		zero := 0
		final.ExitCode = &zero
	} else {
		final.Error = firstLine(outcome.LastError)
	}
	_ = m.store.InsertAttempt(final)
	_ = m.store.UpdateSessionCompletion(sessionID, string(outcome.State), outcome.Attempts, firstLine(outcome.LastError))

	return outcome, runErr
}

func (m *Manager) event(sessionID string, e logs.Event) {
	if err := logs.AppendEvent(m.settings.StateDir, sessionID, e); err != nil {
		log.Printf("manager: append event: %v", err)
	}
}

func hasPythonEvidence(records []scan.FileRecord) bool {
	for _, r := range records {
		if r.Role == scan.RoleSource || r.Role == scan.RoleDeclaration {
			return true
		}
	}
	return false
}

var envFileNames = map[string]bool{
	"environment.yml":  true,
	"environment.yaml": true,
	"conda.yml":        true,
	"conda.yaml":       true,
}

// existingEnvFile returns the shallowest sizable environment file, if any.
func existingEnvFile(records []scan.FileRecord) (scan.FileRecord, bool) {
	best := scan.FileRecord{}
	found := false
	for _, r := range records {
		if r.Role != scan.RoleDeclaration || !envFileNames[pathBase(r.RelPath)] {
			continue
		}
		if r.Size <= quickDecisionBytes {
			continue
		}
		if !found || pathDepth(r.RelPath) < pathDepth(best.RelPath) {
			best = r
			found = true
		}
	}
	return best, found
}

// collectDeclarations concatenates condensed declaration contents for the
// conversion prompt. Environment files are excluded here; they are handled by
// the adoption path.
func collectDeclarations(records []scan.FileRecord) string {
	var b strings.Builder
	for _, r := range records {
		if r.Role != scan.RoleDeclaration || envFileNames[pathBase(r.RelPath)] {
			continue
		}
		if r.Size <= quickDecisionBytes {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", r.RelPath, scan.CondenseDeclaration(r))
	}
	return b.String()
}

func newSessionID() string {
	return ulid.Make().String()
}

func pathBase(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

func pathDepth(rel string) int {
	return strings.Count(rel, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
