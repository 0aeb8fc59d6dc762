// Package scan walks an effective project root and turns it into dependency
// evidence: per-file records for the payload selector and a frequency count of
// imported packages. Nothing here is semantic analysis; only import statements
// and file presence are extracted.
package scan

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Role string

const (
	RoleDeclaration   Role = "declaration"
	RoleDocumentation Role = "documentation"
	RoleSource        Role = "source"
	RoleOther         Role = "other"
)

// ReadCeiling caps how much of any single file is loaded. Declaration and
// documentation records are truncated again by the payload selector; this is
// only a guard against pathological files.
const ReadCeiling = 262144

// MaxParseBytes is the ceiling for syntax parsing a source file. Larger files
// keep their record but contribute no import evidence.
const MaxParseBytes = 80000

// declarationFiles is the fixed set of filenames that authoritatively declare
// dependencies, as opposed to files that merely use them.
var declarationFiles = map[string]bool{
	"pyproject.toml":       true,
	"requirements.txt":     true,
	"requirements-dev.txt": true,
	"requirements.in":      true,
	"requirements-dev.in":  true,
	"setup.py":             true,
	"setup.cfg":            true,
	"Pipfile":              true,
	"Pipfile.lock":         true,
	"poetry.lock":          true,
	"environment.yml":      true,
	"environment.yaml":     true,
	"conda.yml":            true,
	"conda.yaml":           true,
}

// excludePrefixes are slash-relative directory prefixes skipped during the
// walk; they add noise (tests, docs, build output) without declaring anything.
var excludePrefixes = []string{
	"tests/", "test/",
	"docs/", "doc/",
	"benchmarks/", "benchmark/",
	".github/", ".git/",
	"examples/", "example/",
	"scripts/", "script/",
	"release/", "dist/", "build/",
	"__pycache__/",
}

// accelKeywords flag a project-wide hardware-acceleration requirement via
// case-insensitive substring match. Coarse on purpose; false positives are
// acceptable.
var accelKeywords = []string{"cuda", "gpu", "torch.device"}

// FileRecord is one discovered file. Immutable once read.
type FileRecord struct {
	RelPath string
	Content string
	Role    Role
	Size    int64
}

// Evidence aggregates import counts across all parsed source files, after
// stdlib/relative exclusion and alias normalization.
type Evidence struct {
	Counts        map[string]int
	AccelRequired bool
}

// RankedImport is one entry of the frequency ranking.
type RankedImport struct {
	Name  string
	Count int
}

// Ranked returns imports ordered by descending count, name ascending on ties.
func (e Evidence) Ranked() []RankedImport {
	out := make([]RankedImport, 0, len(e.Counts))
	for name, n := range e.Counts {
		out = append(out, RankedImport{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Collector walks a root and produces evidence. One Collector per pipeline;
// it owns a reusable parser and is not safe for concurrent use.
type Collector struct {
	extractor *importExtractor
}

func NewCollector() *Collector {
	return &Collector{extractor: newImportExtractor()}
}

// Collect performs a breadth-first walk under root. Single-file failures are
// recovered locally: an unreadable or unparsable file is logged and excluded
// from import evidence but stays present in the record list when it was at
// least readable.
func (c *Collector) Collect(root string) (Evidence, []FileRecord, error) {
	root = filepath.Clean(root)
	ev := Evidence{Counts: make(map[string]int)}
	var records []FileRecord

	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return Evidence{}, nil, err
			}
			log.Printf("scan: skipping unreadable directory %s: %v", dir, err)
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			rel := relSlash(root, path)
			if e.IsDir() {
				if excluded(rel+"/") || hiddenDir(e.Name()) {
					continue
				}
				queue = append(queue, path)
				continue
			}
			if excluded(rel) {
				continue
			}
			rec, ok := c.readRecord(path, rel)
			if !ok {
				continue
			}
			if rec.Role == RoleSource {
				c.harvest(&ev, rec)
			}
			records = append(records, rec)
		}
	}
	return ev, records, nil
}

// readRecord loads one file. Role other files are recorded without content;
// they matter only for presence.
func (c *Collector) readRecord(path, rel string) (FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil {
		log.Printf("scan: stat %s: %v", path, err)
		return FileRecord{}, false
	}
	role := roleFor(filepath.Base(rel))
	rec := FileRecord{RelPath: rel, Role: role, Size: info.Size()}
	if role == RoleOther {
		return rec, true
	}

	b, err := os.ReadFile(path)
	if err != nil {
		log.Printf("scan: read %s: %v", path, err)
		return FileRecord{}, false
	}
	if len(b) > ReadCeiling {
		b = b[:ReadCeiling]
	}
	// Best-effort decode: invalid UTF-8 sequences are replaced, never fatal.
	rec.Content = strings.ToValidUTF8(string(b), "�")
	return rec, true
}

// harvest extracts import evidence and the acceleration flag from one source
// record. Parse failures are recovered locally.
func (c *Collector) harvest(ev *Evidence, rec FileRecord) {
	lower := strings.ToLower(rec.Content)
	for _, kw := range accelKeywords {
		if strings.Contains(lower, kw) {
			ev.AccelRequired = true
			break
		}
	}

	if len(rec.Content) > MaxParseBytes {
		log.Printf("scan: %s exceeds parse ceiling (%d bytes), import extraction skipped", rec.RelPath, len(rec.Content))
		return
	}
	mods, err := c.extractor.Extract([]byte(rec.Content))
	if err != nil {
		log.Printf("scan: parse %s: %v", rec.RelPath, err)
		return
	}
	for _, m := range mods {
		if pkg := NormalizeModule(m); pkg != "" {
			ev.Counts[pkg]++
		}
	}
}

func roleFor(base string) Role {
	if declarationFiles[base] {
		return RoleDeclaration
	}
	switch strings.ToLower(base) {
	case "readme.md", "readme.rst", "readme.txt", "readme":
		return RoleDocumentation
	}
	if strings.HasSuffix(base, ".py") {
		return RoleSource
	}
	return RoleOther
}

// IsDeclarationFile reports whether base belongs to the fixed declaration set.
func IsDeclarationFile(base string) bool { return declarationFiles[base] }

func excluded(rel string) bool {
	for _, pfx := range excludePrefixes {
		if strings.HasPrefix(rel, pfx) {
			return true
		}
	}
	return false
}

func hiddenDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "__pycache__", "node_modules", "venv", "site-packages":
		return true
	}
	return false
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
