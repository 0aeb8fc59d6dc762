// Package evidence assembles the bounded payload handed to the advisory
// service. Whatever the repository size, the output respects hard character
// and file-count budgets, dropping the lowest-priority tier first.
package evidence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/envsmith/envsmith/internal/scan"
)

// TruncationMarker closes a payload that hit the global budget. It is always
// explicit; content is never dropped silently mid-tier.
const TruncationMarker = "--- [TRUNCATED: input budget reached] ---"

// SummaryPath is the synthetic record carrying the import ranking.
const SummaryPath = "__import_summary__"

// Budgets are the hard caps for one payload. Declarations get a generous
// per-file cap because exact pins matter; sampled source is trimmed
// aggressively.
type Budgets struct {
	MaxFilesTotal  int
	MaxSourceFiles int
	DeclarationCap int
	DocCap         int
	SourceCap      int
	TotalCap       int
	TopImports     int
}

func DefaultBudgets() Budgets {
	return Budgets{
		MaxFilesTotal:  60,
		MaxSourceFiles: 30,
		DeclarationCap: 12000,
		DocCap:         4000,
		SourceCap:      1800,
		TotalCap:       110000,
		TopImports:     60,
	}
}

// Payload is the serialized evidence bundle.
type Payload struct {
	Text      string
	Files     int
	Truncated bool
}

// Select partitions records into declaration/documentation/source tiers,
// orders each lexicographically for reproducibility, and concatenates them
// under the budgets. The synthetic import summary is appended last. The
// returned text is guaranteed shorter than b.TotalCap.
func Select(records []scan.FileRecord, ev scan.Evidence, b Budgets) Payload {
	var decls, docs, sources []scan.FileRecord
	for _, r := range records {
		switch r.Role {
		case scan.RoleDeclaration:
			decls = append(decls, r)
		case scan.RoleDocumentation:
			docs = append(docs, r)
		case scan.RoleSource:
			sources = append(sources, r)
		}
	}
	byPath := func(s []scan.FileRecord) {
		sort.Slice(s, func(i, j int) bool { return s[i].RelPath < s[j].RelPath })
	}
	byPath(decls)
	byPath(docs)
	byPath(sources)
	if len(sources) > b.MaxSourceFiles {
		sources = sources[:b.MaxSourceFiles]
	}

	type tiered struct {
		rec   scan.FileRecord
		limit int
	}
	var ordered []tiered
	for _, r := range decls {
		ordered = append(ordered, tiered{r, b.DeclarationCap})
	}
	for _, r := range docs {
		ordered = append(ordered, tiered{r, b.DocCap})
	}
	for _, r := range sources {
		ordered = append(ordered, tiered{r, b.SourceCap})
	}
	summary := scan.FileRecord{RelPath: SummaryPath, Content: Summarize(ev, b.TopImports)}
	ordered = append(ordered, tiered{summary, b.DeclarationCap})
	if len(ordered) > b.MaxFilesTotal {
		ordered = append(ordered[:b.MaxFilesTotal-1], ordered[len(ordered)-1])
	}

	// Reserve room for the marker so the global cap holds even when we
	// truncate.
	budget := b.TotalCap - len(TruncationMarker) - 2

	var out strings.Builder
	total := 0
	files := 0
	truncated := false
	for _, item := range ordered {
		block := formatBlock(item.rec.RelPath, clip(item.rec.Content, item.limit))
		if total+len(block) > budget {
			truncated = true
			break
		}
		out.WriteString(block)
		total += len(block)
		files++
	}
	if truncated {
		out.WriteString(TruncationMarker)
		out.WriteString("\n")
	}
	return Payload{Text: out.String(), Files: files, Truncated: truncated}
}

// Summarize renders the synthetic import-summary record: a fixed label line,
// ranked "- name: count" entries, and a long-tail count for everything that
// did not make the ranking.
func Summarize(ev scan.Evidence, topN int) string {
	ranked := ev.Ranked()
	var b strings.Builder
	b.WriteString("Import Summary (scanned locally from all source files)\n")
	if ev.AccelRequired {
		b.WriteString("- hardware_acceleration_required: yes\n")
	} else {
		b.WriteString("- hardware_acceleration_required: no\n")
	}
	fmt.Fprintf(&b, "- unique_external_packages: %d\n", len(ranked))
	if len(ranked) == 0 {
		b.WriteString("- no external imports detected\n")
		return b.String()
	}
	top := ranked
	if len(top) > topN {
		top = top[:topN]
	}
	fmt.Fprintf(&b, "- top_%d:\n", topN)
	for _, r := range top {
		fmt.Fprintf(&b, "  - %s: %d\n", r.Name, r.Count)
	}
	if tail := len(ranked) - len(top); tail > 0 {
		fmt.Fprintf(&b, "- other_unique_packages_not_listed: %d\n", tail)
	}
	return b.String()
}

func formatBlock(relPath, content string) string {
	return fmt.Sprintf("--- %s ---\n%s\n\n", relPath, content)
}

func clip(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	return content[:limit] + "\n... (truncated)"
}
