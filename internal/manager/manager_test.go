package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/envsmith/envsmith/internal/advisor"
	"github.com/envsmith/envsmith/internal/conda"
	"github.com/envsmith/envsmith/internal/config"
	"github.com/envsmith/envsmith/internal/envspec"
	"github.com/envsmith/envsmith/internal/repair"
	"github.com/envsmith/envsmith/internal/scan"
	"github.com/envsmith/envsmith/internal/syscheck"
)

type recordingAdvisor struct {
	answer  string
	prompts []string
}

func (a *recordingAdvisor) Propose(_ context.Context, prompt string) (string, error) {
	a.prompts = append(a.prompts, prompt)
	return a.answer, nil
}

type fakeRealizer struct {
	exists  bool
	removed []string
	created []string
}

func (f *fakeRealizer) CreateEnvironment(_ context.Context, _, name string) (conda.Result, error) {
	f.created = append(f.created, name)
	return conda.Result{ExitCode: 0}, nil
}

func (f *fakeRealizer) EnvironmentExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeRealizer) RemoveEnvironment(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func newTestManager(t *testing.T, adv *recordingAdvisor, realizer Realizer) *Manager {
	t.Helper()
	settings := config.Settings{
		Model:         "test-model",
		MaxRetries:    3,
		StateDir:      filepath.Join(t.TempDir(), "state"),
		CreateTimeout: config.DefaultTimeout,
	}
	var a advisor.Advisor
	if adv != nil {
		a = adv
	}
	m, err := New(settings, a, realizer)
	require.NoError(t, err)
	m.preflightFn = func(context.Context) (syscheck.Report, error) {
		return syscheck.Report{OS: "linux", Arch: "amd64", Passed: true}, nil
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

const sampleEnvYML = `name: Demo Env
channels:
  - conda-forge
dependencies:
  - python=3.9
  - numpy
`

func TestGenerateAdoptsExistingEnvironmentFile(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"environment.yml": sampleEnvYML,
		"main.py":         "import numpy\n",
	})
	m := newTestManager(t, nil, nil)

	res, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, NoCreate: true})
	require.NoError(t, err)
	require.Equal(t, SourceExisting, res.Source)
	require.Equal(t, "demo-env", res.EnvName)

	written, err := envspec.Load(res.SpecPath)
	require.NoError(t, err)
	require.Equal(t, "demo-env", written.Name)
	// The file already pinned the interpreter; it is kept, not replaced.
	require.Contains(t, written.Dependencies.Conda, "python=3.9")
}

func TestGenerateConvertsDeclarations(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"requirements.txt": "numpy==1.26.0\npandas>=2.0\nrequests\nflask\nscipy\nmatplotlib\n",
		"app.py":           "import numpy\n",
	})
	adv := &recordingAdvisor{answer: "name: app\ndependencies:\n  - numpy=1.26.0\n  - pandas\n"}
	m := newTestManager(t, adv, nil)

	res, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, NoCreate: true})
	require.NoError(t, err)
	require.Equal(t, SourceDeclarations, res.Source)
	require.Len(t, adv.prompts, 1)
	require.Contains(t, adv.prompts[0], "numpy==1.26.0")
	require.Contains(t, adv.prompts[0], "requirements.txt")

	written, err := envspec.Load(res.SpecPath)
	require.NoError(t, err)
	require.Equal(t, "python=3.11", written.Dependencies.Conda[0])
}

func TestGenerateFromEvidence(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"train.py": "import torch\nimport numpy as np\ndevice = torch.device('cuda')\n",
		"util.py":  "import numpy\n",
	})
	adv := &recordingAdvisor{answer: "name: train\ndependencies:\n  - pytorch\n  - numpy\n"}
	m := newTestManager(t, adv, nil)

	res, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, NoCreate: true})
	require.NoError(t, err)
	require.Equal(t, SourceEvidence, res.Source)
	require.Len(t, adv.prompts, 1)
	require.Contains(t, adv.prompts[0], "Import Summary")
	require.Contains(t, adv.prompts[0], "Hardware acceleration: CUDA")
}

func TestGenerateInjectsEditableInstallForNestedRoot(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"README.md": "top level readme\n",
		"pkg/setup.py": "from setuptools import setup\n" +
			"setup(name='pkg', install_requires=['numpy', 'requests'])\n",
		"pkg/pkg/core.py": "import numpy\n",
	})
	adv := &recordingAdvisor{answer: "name: pkg\ndependencies:\n  - numpy\n  - requests\n"}
	m := newTestManager(t, adv, nil)

	res, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, NoCreate: true})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(src, "pkg"), res.Root.Path)

	written, err := envspec.Load(res.SpecPath)
	require.NoError(t, err)
	require.Contains(t, written.Dependencies.Pip, "-e "+res.Root.Path)
}

func TestGenerateRootNotFound(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"notes.txt": "nothing pythonic here\n"})
	m := newTestManager(t, nil, nil)

	_, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, NoCreate: true})
	require.ErrorIs(t, err, ErrRootNotFound)
}

func TestGeneratePreflightFailure(t *testing.T) {
	m := newTestManager(t, nil, nil)
	m.preflightFn = func(context.Context) (syscheck.Report, error) {
		return syscheck.Report{}, fmt.Errorf("%w: package manager: not found", ErrPreflight)
	}
	_, err := m.Generate(context.Background(), GenerateOptions{SourcePath: t.TempDir()})
	require.ErrorIs(t, err, ErrPreflight)
}

func TestGenerateRealizesAndJournals(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"environment.yml": sampleEnvYML,
		"main.py":         "import numpy\n",
	})
	realizer := &fakeRealizer{exists: true}
	m := newTestManager(t, nil, realizer)

	res, err := m.Generate(context.Background(), GenerateOptions{SourcePath: src, EnvName: "journal-demo"})
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	require.Equal(t, repair.StateSucceeded, res.Outcome.State)
	require.Equal(t, []string{"journal-demo"}, realizer.removed, "pre-existing environment is removed first")
	require.Equal(t, []string{"journal-demo"}, realizer.created)

	sessions, err := m.History(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, res.SessionID, sessions[0].SessionID)
	require.Equal(t, "succeeded", sessions[0].State)
	require.Equal(t, 1, sessions[0].Attempts)

	attempts, err := m.Attempts(res.SessionID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].ExitCode)
	require.Zero(t, *attempts[0].ExitCode)

	events, err := m.Events(res.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestCreateRealizesExistingSpec(t *testing.T) {
	specPath := filepath.Join(t.TempDir(), "environment.yml")
	require.NoError(t, os.WriteFile(specPath, []byte(sampleEnvYML), 0o644))
	realizer := &fakeRealizer{}
	m := newTestManager(t, nil, realizer)

	res, err := m.Create(context.Background(), CreateOptions{SpecPath: specPath})
	require.NoError(t, err)
	require.Equal(t, SourceManual, res.Source)
	require.Equal(t, "demo-env", res.EnvName)
	require.Equal(t, repair.StateSucceeded, res.Outcome.State)

	sessions, err := m.History(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "manual", sessions[0].Source)
}

func TestInferPythonVersion(t *testing.T) {
	pyprojectWithFloor := scan.FileRecord{
		RelPath: "pyproject.toml",
		Role:    scan.RoleDeclaration,
		Content: "[project]\nname = \"x\"\nrequires-python = \">=3.12\"\n",
	}
	matchSource := scan.FileRecord{
		RelPath: "router.py",
		Role:    scan.RoleSource,
		Content: "def route(cmd):\n    match cmd:\n        case 'a':\n            return 1\n",
	}
	plainSource := scan.FileRecord{RelPath: "a.py", Role: scan.RoleSource, Content: "import os\n"}

	require.Equal(t, "3.11", inferPythonVersion("", []scan.FileRecord{plainSource}))
	require.Equal(t, "3.12", inferPythonVersion("3.12", []scan.FileRecord{plainSource}))
	require.Equal(t, "3.12", inferPythonVersion("", []scan.FileRecord{pyprojectWithFloor}))
	// A match statement floors the version at 3.10, which the default already
	// satisfies.
	require.Equal(t, "3.11", inferPythonVersion("", []scan.FileRecord{matchSource}))
	require.Equal(t, "3.10", inferPythonVersion("3.8", []scan.FileRecord{matchSource}))
}
