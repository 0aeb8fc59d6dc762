package scan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectCountsExternalImports(t *testing.T) {
	root := t.TempDir()
	write(t, root, "train.py", "import numpy\nimport numpy.linalg\nfrom torch import nn\nimport os\n")
	write(t, root, "model.py", "import numpy as np\nfrom . import util\n")

	ev, records, err := NewCollector().Collect(root)
	require.NoError(t, err)

	require.Equal(t, 3, ev.Counts["numpy"])
	require.Equal(t, 1, ev.Counts["torch"])
	require.NotContains(t, ev.Counts, "os")
	require.NotContains(t, ev.Counts, "util")
	require.Len(t, records, 2)
}

func TestCollectAppliesAliasTable(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app.py", "import yaml\nimport cv2\nfrom PIL import Image\nimport sklearn.metrics\n")

	ev, _, err := NewCollector().Collect(root)
	require.NoError(t, err)

	require.Equal(t, 1, ev.Counts["pyyaml"])
	require.Equal(t, 1, ev.Counts["opencv-python"])
	require.Equal(t, 1, ev.Counts["pillow"])
	require.Equal(t, 1, ev.Counts["scikit-learn"])
	require.NotContains(t, ev.Counts, "yaml")
	require.NotContains(t, ev.Counts, "cv2")
}

func TestCollectSkipsBrokenFileButKeepsRecord(t *testing.T) {
	root := t.TempDir()
	write(t, root, "broken.py", "import numpy\ndef f(:\n")
	write(t, root, "good.py", "import requests\n")

	ev, records, err := NewCollector().Collect(root)
	require.NoError(t, err)

	require.Equal(t, 1, ev.Counts["requests"])
	require.NotContains(t, ev.Counts, "numpy")

	var rels []string
	for _, r := range records {
		rels = append(rels, r.RelPath)
	}
	require.Contains(t, rels, "broken.py")
}

func TestCollectFlagsAcceleration(t *testing.T) {
	root := t.TempDir()
	write(t, root, "cpu.py", "import math\n")

	ev, _, err := NewCollector().Collect(root)
	require.NoError(t, err)
	require.False(t, ev.AccelRequired)

	write(t, root, "gpu.py", "device = torch.device('CUDA')\n")
	ev, _, err = NewCollector().Collect(root)
	require.NoError(t, err)
	require.True(t, ev.AccelRequired)
}

func TestCollectRolesAndExclusions(t *testing.T) {
	root := t.TempDir()
	write(t, root, "requirements.txt", "numpy==1.21.0\n")
	write(t, root, "README.md", "# demo\n")
	write(t, root, "main.py", "import flask\n")
	write(t, root, "data.bin", "\x00\x01")
	write(t, root, "tests/test_main.py", "import pytest\n")
	write(t, root, "__pycache__/junk.pyc", "x")

	ev, records, err := NewCollector().Collect(root)
	require.NoError(t, err)
	require.NotContains(t, ev.Counts, "pytest")

	roles := map[string]Role{}
	for _, r := range records {
		roles[r.RelPath] = r.Role
	}
	require.Equal(t, RoleDeclaration, roles["requirements.txt"])
	require.Equal(t, RoleDocumentation, roles["README.md"])
	require.Equal(t, RoleSource, roles["main.py"])
	require.Equal(t, RoleOther, roles["data.bin"])
	require.NotContains(t, roles, "tests/test_main.py")
}

func TestRankedOrdersByCountThenName(t *testing.T) {
	ev := Evidence{Counts: map[string]int{"b": 2, "a": 2, "c": 5}}
	ranked := ev.Ranked()
	require.Equal(t, []RankedImport{{"c", 5}, {"a", 2}, {"b", 2}}, ranked)
}

func TestNormalizeModule(t *testing.T) {
	require.Equal(t, "pandas", NormalizeModule("pandas.core.frame"))
	require.Equal(t, "", NormalizeModule("os"))
	require.Equal(t, "", NormalizeModule(".relative"))
	require.Equal(t, "", NormalizeModule("_private"))
	require.Equal(t, "pyyaml", NormalizeModule("yaml"))
}

func TestPyprojectDeps(t *testing.T) {
	content := `
[project]
name = "demo"
requires-python = ">=3.10"
dependencies = ["numpy>=1.21", "requests"]
`
	deps, requires, err := PyprojectDeps(content)
	require.NoError(t, err)
	require.Equal(t, []string{"numpy>=1.21", "requests"}, deps)
	require.Equal(t, ">=3.10", requires)
}

func TestPyprojectDepsPoetry(t *testing.T) {
	content := `
[tool.poetry.dependencies]
python = "^3.9"
pandas = "^2.0"
click = "*"
`
	deps, _, err := PyprojectDeps(content)
	require.NoError(t, err)
	require.Equal(t, []string{"click", "pandas"}, deps)
}

func TestSetupPyDeps(t *testing.T) {
	content := `
from setuptools import setup
setup(
    name="demo",
    install_requires=[
        "numpy>=1.21",
        'torch',
    ],
)
`
	require.Equal(t, []string{"numpy>=1.21", "torch"}, SetupPyDeps(content))
	require.Nil(t, SetupPyDeps("setup(name='x')"))
}

func TestCondenseDeclarationPassthrough(t *testing.T) {
	rec := FileRecord{RelPath: "requirements.txt", Content: "numpy\n", Role: RoleDeclaration}
	require.Equal(t, "numpy\n", CondenseDeclaration(rec))

	rec = FileRecord{RelPath: "pkg/setup.py", Content: "install_requires=[\"flask\"]", Role: RoleDeclaration}
	got := CondenseDeclaration(rec)
	require.True(t, strings.Contains(got, "flask"))
	require.True(t, strings.HasPrefix(got, "# install_requires"))
}
