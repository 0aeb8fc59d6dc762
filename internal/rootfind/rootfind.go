// Package rootfind locates the effective project root under a starting
// directory. Monorepos often keep the real project (the one with a packaging
// manifest) in a subdirectory; scoring marker files finds it without guessing
// from source-file counts.
package rootfind

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxDepth bounds the search below the starting directory. Markers deeper
// than this never influence the result.
const MaxDepth = 3

// markerWeights maps marker filenames to their score contribution. Strong
// markers are authoritative project declarations; requirements.txt is weaker
// because vendored subtrees carry them too.
var markerWeights = []struct {
	Name   string
	Weight int
}{
	{"setup.py", 10},
	{"pyproject.toml", 10},
	{"Pipfile", 10},
	{"environment.yml", 10},
	{"requirements.txt", 5},
}

// Candidate is one scored directory. Score is zero unless at least one
// marker is present; file counts alone never promote a directory.
type Candidate struct {
	Path    string
	Depth   int
	Score   int
	Markers []string
}

// Score sums marker weights for a directory listing.
func Score(names []string) (int, []string) {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	total := 0
	var found []string
	for _, m := range markerWeights {
		if present[m.Name] {
			total += m.Weight
			found = append(found, m.Name)
		}
	}
	return total, found
}

// Pick reduces two candidates to the better one. A strictly greater score is
// required to replace the current best; on ties the earlier (lexicographically
// first-visited) candidate is kept, so the result does not depend on
// traversal internals.
func Pick(best, next Candidate) Candidate {
	if next.Score > best.Score {
		return next
	}
	return best
}

// Locate walks at most MaxDepth levels below start and returns the
// highest-scoring directory. If no directory anywhere scores above zero the
// start path is returned unchanged. Unreadable subtrees are skipped silently;
// the walk is read-only.
func Locate(start string) Candidate {
	start = filepath.Clean(start)
	best := Candidate{Path: start, Depth: 0, Score: 0}

	// WalkDir visits children in lexical order, so the first candidate seen
	// at a given score is the lexicographically earliest one.
	_ = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return nil
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		depth := relDepth(start, path)
		if depth > MaxDepth {
			return fs.SkipDir
		}
		if path != start && skipDirName(d.Name()) {
			return fs.SkipDir
		}

		names, err := listNames(path)
		if err != nil {
			return fs.SkipDir
		}
		score, markers := Score(names)
		if score == 0 {
			return nil
		}
		cand := Candidate{Path: path, Depth: depth, Score: score, Markers: markers}
		prev := best
		best = Pick(best, cand)
		if best.Path != prev.Path {
			log.Printf("rootfind: better root candidate %s (score %d, markers %v)", best.Path, best.Score, best.Markers)
		}
		return nil
	})
	return best
}

func relDepth(start, path string) int {
	rel, err := filepath.Rel(start, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func skipDirName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "__pycache__", "node_modules", "venv", "site-packages":
		return true
	}
	return false
}

func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
