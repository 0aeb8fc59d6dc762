package rootfind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
}

func TestLocateNoMarkersReturnsStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "model.py"))
	writeFile(t, filepath.Join(dir, "b", "train.py"))

	got := Locate(dir)
	require.Equal(t, dir, got.Path)
	require.Zero(t, got.Score)
}

func TestLocatePrefersSubdirWithManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "readme.txt"))
	writeFile(t, filepath.Join(dir, "sub", "setup.py"))

	got := Locate(dir)
	require.Equal(t, filepath.Join(dir, "sub"), got.Path)
	require.Equal(t, 10, got.Score)
	require.Contains(t, got.Markers, "setup.py")
}

func TestLocateStrongMarkerBeatsWeak(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vendor_a", "requirements.txt"))
	writeFile(t, filepath.Join(dir, "core", "pyproject.toml"))

	got := Locate(dir)
	require.Equal(t, filepath.Join(dir, "core"), got.Path)
}

func TestLocateTieKeepsEarlierPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha", "setup.py"))
	writeFile(t, filepath.Join(dir, "beta", "setup.py"))

	got := Locate(dir)
	require.Equal(t, filepath.Join(dir, "alpha"), got.Path)
}

func TestLocateIgnoresMarkersBeyondDepthLimit(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c", "d")
	writeFile(t, filepath.Join(deep, "setup.py"))

	got := Locate(dir)
	require.Equal(t, dir, got.Path)
}

func TestLocateDepthThreeStillCounts(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")
	writeFile(t, filepath.Join(target, "environment.yml"))

	got := Locate(dir)
	require.Equal(t, target, got.Path)
	require.Equal(t, 3, got.Depth)
}

func TestLocateRootMarkerWinsOverEqualSubdir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "setup.py"))
	writeFile(t, filepath.Join(dir, "sub", "setup.py"))

	got := Locate(dir)
	require.Equal(t, dir, got.Path)
}

func TestScoreSumsMarkers(t *testing.T) {
	score, markers := Score([]string{"setup.py", "requirements.txt", "main.py"})
	require.Equal(t, 15, score)
	require.Equal(t, []string{"setup.py", "requirements.txt"}, markers)

	score, markers = Score([]string{"main.py", "util.py"})
	require.Zero(t, score)
	require.Empty(t, markers)
}

func TestPickRequiresStrictlyGreaterScore(t *testing.T) {
	a := Candidate{Path: "a", Score: 10}
	b := Candidate{Path: "b", Score: 10}
	require.Equal(t, "a", Pick(a, b).Path)

	c := Candidate{Path: "c", Score: 15}
	require.Equal(t, "c", Pick(a, c).Path)
}
