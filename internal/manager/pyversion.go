package manager

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/envsmith/envsmith/internal/config"
	"github.com/envsmith/envsmith/internal/scan"
)

var (
	versionRe = regexp.MustCompile(`(\d+)\.(\d+)`)
	// A statement-position match block only parses on 3.10+.
	matchCaseRe = regexp.MustCompile(`(?m)^\s*match\s+\S.*:\s*$`)
)

// inferPythonVersion picks the interpreter version: the caller's request or
// the default, raised to any floor the repository itself demands via a
// Requires-Python constraint or 3.10+ syntax.
func inferPythonVersion(requested string, records []scan.FileRecord) string {
	version := strings.TrimSpace(requested)
	if version == "" {
		version = config.DefaultPythonGuess
	}
	if floor := requiresPythonFloor(records); floor != "" {
		version = maxVersion(version, floor)
	}
	if usesMatchStatements(records) {
		version = maxVersion(version, "3.10")
	}
	return version
}

// requiresPythonFloor reads the lowest version a pyproject.toml
// Requires-Python constraint allows. Only lower bounds matter here.
func requiresPythonFloor(records []scan.FileRecord) string {
	for _, r := range records {
		if r.Role != scan.RoleDeclaration || pathBase(r.RelPath) != "pyproject.toml" {
			continue
		}
		_, requires, err := scan.PyprojectDeps(r.Content)
		if err != nil || requires == "" {
			continue
		}
		if m := versionRe.FindString(requires); m != "" {
			return m
		}
	}
	return ""
}

func usesMatchStatements(records []scan.FileRecord) bool {
	for _, r := range records {
		if r.Role == scan.RoleSource && matchCaseRe.MatchString(r.Content) {
			return true
		}
	}
	return false
}

func maxVersion(a, b string) string {
	if compareVersions(a, b) >= 0 {
		return a
	}
	return b
}

// compareVersions orders major.minor strings numerically; unparsable input
// sorts lowest.
func compareVersions(a, b string) int {
	amaj, amin := splitVersion(a)
	bmaj, bmin := splitVersion(b)
	if amaj != bmaj {
		return amaj - bmaj
	}
	return amin - bmin
}

func splitVersion(v string) (major, minor int) {
	m := versionRe.FindStringSubmatch(v)
	if m == nil {
		return -1, -1
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor
}
