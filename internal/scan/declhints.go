package scan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// pyproject models just the slices of PEP 621 / poetry metadata we care
// about; unknown fields are ignored.
type pyproject struct {
	Project struct {
		Name                 string              `toml:"name"`
		RequiresPython       string              `toml:"requires-python"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// PyprojectDeps extracts declared dependencies and the requires-python
// constraint from pyproject.toml content. Poetry-managed projects keep their
// dependencies under tool.poetry; both layouts are read.
func PyprojectDeps(content string) ([]string, string, error) {
	var pp pyproject
	if err := toml.Unmarshal([]byte(content), &pp); err != nil {
		return nil, "", fmt.Errorf("parse pyproject.toml: %w", err)
	}
	deps := append([]string(nil), pp.Project.Dependencies...)
	if len(pp.Tool.Poetry.Dependencies) > 0 {
		names := make([]string, 0, len(pp.Tool.Poetry.Dependencies))
		for name := range pp.Tool.Poetry.Dependencies {
			if strings.EqualFold(name, "python") {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		deps = append(deps, names...)
	}
	return deps, strings.TrimSpace(pp.Project.RequiresPython), nil
}

var (
	installRequiresRe = regexp.MustCompile(`(?s)install_requires\s*=\s*\[(.*?)\]`)
	quotedTokenRe     = regexp.MustCompile(`["']([^"']+)["']`)
)

// SetupPyDeps pulls install_requires entries out of setup.py text. setup.py
// is arbitrary code, so this is a textual extraction, not an evaluation.
func SetupPyDeps(content string) []string {
	m := installRequiresRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	var deps []string
	for _, q := range quotedTokenRe.FindAllStringSubmatch(m[1], -1) {
		deps = append(deps, q[1])
	}
	return deps
}

// CondenseDeclaration rewrites a declaration record into its dependency
// essence where the raw file would mostly be noise (setup.py bodies,
// pyproject build config). Other declaration files pass through verbatim.
func CondenseDeclaration(rec FileRecord) string {
	base := rec.RelPath
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	switch base {
	case "setup.py":
		if deps := SetupPyDeps(rec.Content); len(deps) > 0 {
			return "# install_requires\n" + strings.Join(deps, "\n") + "\n"
		}
	case "pyproject.toml":
		deps, requires, err := PyprojectDeps(rec.Content)
		if err == nil && (len(deps) > 0 || requires != "") {
			var b strings.Builder
			b.WriteString("# dependencies\n")
			if requires != "" {
				fmt.Fprintf(&b, "Requires-Python: %s\n", requires)
			}
			for _, d := range deps {
				b.WriteString(d)
				b.WriteByte('\n')
			}
			return b.String()
		}
	}
	return rec.Content
}
