package evidence

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/envsmith/envsmith/internal/scan"
)

func srcRecord(rel, content string) scan.FileRecord {
	return scan.FileRecord{RelPath: rel, Content: content, Role: scan.RoleSource, Size: int64(len(content))}
}

func TestSelectPriorityOrder(t *testing.T) {
	records := []scan.FileRecord{
		srcRecord("zz.py", "import a\n"),
		{RelPath: "README.md", Content: "docs", Role: scan.RoleDocumentation},
		{RelPath: "requirements.txt", Content: "numpy==1.21.0", Role: scan.RoleDeclaration},
	}
	p := Select(records, scan.Evidence{Counts: map[string]int{"numpy": 3}}, DefaultBudgets())

	iDecl := strings.Index(p.Text, "--- requirements.txt ---")
	iDoc := strings.Index(p.Text, "--- README.md ---")
	iSrc := strings.Index(p.Text, "--- zz.py ---")
	iSum := strings.Index(p.Text, "--- "+SummaryPath+" ---")
	require.True(t, iDecl >= 0 && iDoc > iDecl && iSrc > iDoc && iSum > iSrc,
		"expected declaration < doc < source < summary, got %d %d %d %d", iDecl, iDoc, iSrc, iSum)
	require.False(t, p.Truncated)
}

func TestSelectSourceSampleIsLexicographicPrefix(t *testing.T) {
	b := DefaultBudgets()
	b.MaxSourceFiles = 10

	var records []scan.FileRecord
	for i := 0; i < 1000; i++ {
		records = append(records, srcRecord(fmt.Sprintf("f%04d.py", i), "import x\n"))
	}
	records = append(records, scan.FileRecord{RelPath: "requirements.txt", Content: "numpy", Role: scan.RoleDeclaration})

	p := Select(records, scan.Evidence{Counts: map[string]int{}}, b)
	require.Contains(t, p.Text, "--- requirements.txt ---")
	for i := 0; i < 10; i++ {
		require.Contains(t, p.Text, fmt.Sprintf("--- f%04d.py ---", i))
	}
	require.NotContains(t, p.Text, "--- f0010.py ---")
}

func TestSelectRespectsGlobalCap(t *testing.T) {
	b := DefaultBudgets()
	b.TotalCap = 2000

	var records []scan.FileRecord
	for i := 0; i < 50; i++ {
		records = append(records, scan.FileRecord{
			RelPath: fmt.Sprintf("dep%02d.txt", i),
			Content: strings.Repeat("x", 500),
			Role:    scan.RoleDeclaration,
		})
	}
	p := Select(records, scan.Evidence{Counts: map[string]int{}}, b)
	require.LessOrEqual(t, len(p.Text), b.TotalCap)
	require.True(t, p.Truncated)
	require.True(t, strings.HasSuffix(strings.TrimRight(p.Text, "\n"), TruncationMarker))
}

func TestSelectFileCountCap(t *testing.T) {
	b := DefaultBudgets()
	b.MaxFilesTotal = 5

	var records []scan.FileRecord
	for i := 0; i < 20; i++ {
		records = append(records, scan.FileRecord{
			RelPath: fmt.Sprintf("d%02d.txt", i),
			Content: "a",
			Role:    scan.RoleDeclaration,
		})
	}
	p := Select(records, scan.Evidence{Counts: map[string]int{"numpy": 1}}, b)
	require.LessOrEqual(t, p.Files, b.MaxFilesTotal)
	// The summary survives the file-count cap; it outranks sampled content.
	require.Contains(t, p.Text, "--- "+SummaryPath+" ---")
}

func TestSelectPerFileClip(t *testing.T) {
	b := DefaultBudgets()
	records := []scan.FileRecord{
		srcRecord("big.py", strings.Repeat("y", b.SourceCap+100)),
	}
	p := Select(records, scan.Evidence{Counts: map[string]int{}}, b)
	require.Contains(t, p.Text, "... (truncated)")
	require.LessOrEqual(t, len(p.Text), b.TotalCap)
}

func TestSummarizeFormat(t *testing.T) {
	ev := scan.Evidence{
		Counts:        map[string]int{"numpy": 5, "torch": 3, "requests": 1},
		AccelRequired: true,
	}
	s := Summarize(ev, 2)
	require.True(t, strings.HasPrefix(s, "Import Summary"))
	require.Contains(t, s, "- hardware_acceleration_required: yes")
	require.Contains(t, s, "- unique_external_packages: 3")
	require.Contains(t, s, "  - numpy: 5")
	require.Contains(t, s, "  - torch: 3")
	require.NotContains(t, s, "requests: 1")
	require.Contains(t, s, "- other_unique_packages_not_listed: 1")
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(scan.Evidence{Counts: map[string]int{}}, 60)
	require.Contains(t, s, "- no external imports detected")
	require.Contains(t, s, "- hardware_acceleration_required: no")
}
