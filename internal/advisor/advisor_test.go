package advisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripFencesPlainTextUntouched(t *testing.T) {
	in := "name: x\ndependencies:\n  - numpy\n"
	require.Equal(t, strings.TrimSpace(in), StripFences(in))
}

func TestStripFencesRemovesWrapping(t *testing.T) {
	in := "```yaml\nname: x\ndependencies:\n  - numpy\n```\n"
	require.Equal(t, "name: x\ndependencies:\n  - numpy", StripFences(in))
}

func TestStripFencesRemovesInteriorFenceLines(t *testing.T) {
	in := "name: x\n```\ndependencies:\n  - numpy\n"
	require.Equal(t, "name: x\ndependencies:\n  - numpy", StripFences(in))
}

func TestRepairPromptDefaults(t *testing.T) {
	p := RepairPrompt("", "name: x", "boom", "")
	require.Contains(t, p, "None - this is the first attempt")
	require.Contains(t, p, "Unknown")
	require.Contains(t, p, "name: x")
	require.Contains(t, p, "boom")
}

func TestBuildFromEvidencePromptIncludesPayload(t *testing.T) {
	p := BuildFromEvidencePrompt("demo", "3.11", "none", "--- requirements.txt ---\nnumpy\n")
	require.Contains(t, p, "- Project name: demo")
	require.Contains(t, p, "- Python version (target): 3.11")
	require.Contains(t, p, "--- requirements.txt ---")
}
