// Package envspec models the on-disk environment description: a conda
// environment.yml with a name, channels, a dependencies sequence of pinned
// tokens, and an optional nested pip install list. Specs are values; every
// repair cycle derives a new one instead of mutating in place.
package envspec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PinSeparator is the fixed name=version separator used by primary entries.
const PinSeparator = "="

// pinOperators are matched longest-first when relaxing a constraint.
var pinOperators = []string{"==", ">=", "<=", "!=", "~=", "="}

// Spec is one round-trippable environment description.
type Spec struct {
	Name         string       `yaml:"name"`
	Channels     []string     `yaml:"channels,omitempty"`
	Dependencies Dependencies `yaml:"dependencies"`
	Prefix       string       `yaml:"prefix,omitempty"`
}

// Dependencies holds the primary (conda) entries in order plus the nested
// secondary pip install list.
type Dependencies struct {
	Conda []string
	Pip   []string
}

// UnmarshalYAML decodes the mixed sequence form: bare tokens plus at most one
// nested mapping keyed "pip".
func (d *Dependencies) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("dependencies must be a sequence, got %s", value.Tag)
	}
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			var s string
			if err := item.Decode(&s); err != nil {
				return err
			}
			d.Conda = append(d.Conda, s)
		case yaml.MappingNode:
			var m map[string][]string
			if err := item.Decode(&m); err != nil {
				return fmt.Errorf("nested install section: %w", err)
			}
			pip, ok := m["pip"]
			if !ok || len(m) != 1 {
				return fmt.Errorf("unsupported nested section, only pip is allowed")
			}
			d.Pip = append(d.Pip, pip...)
		default:
			return fmt.Errorf("unsupported dependency entry kind %d", item.Kind)
		}
	}
	return nil
}

// MarshalYAML renders the same mixed sequence back.
func (d Dependencies) MarshalYAML() (any, error) {
	out := make([]any, 0, len(d.Conda)+1)
	for _, c := range d.Conda {
		out = append(out, c)
	}
	if len(d.Pip) > 0 {
		out = append(out, map[string][]string{"pip": d.Pip})
	}
	return out, nil
}

// Parse decodes spec text. Unknown top-level fields are rejected, the way
// the package manager itself would complain about them.
func Parse(text string) (Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("parse environment spec: %w", err)
	}
	if s.Name == "" {
		return Spec{}, fmt.Errorf("environment spec has no name")
	}
	return s, nil
}

// Load reads and parses a spec file.
func Load(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Parse(string(b))
}

// Render serializes the spec. Rendering an unchanged spec compares equal to
// its source under Normalize.
func (s Spec) Render() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("render environment spec: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteFile atomically replaces path with text: a single full-file write to a
// temp file in the same directory, then rename. An interruption between
// repair cycles leaves the file reflecting the most recently attempted state.
func WriteFile(path, text string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".envspec-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

var commentRe = regexp.MustCompile(`^\s*#`)

// Normalize reduces spec text to a canonical form for change detection:
// blank lines and comments dropped, lines trimmed and sorted. Idempotent,
// and insensitive to line order by construction.
func Normalize(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || commentRe.MatchString(trimmed) {
			continue
		}
		lines = append(lines, trimmed)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// SameNormalized reports whether two spec texts are identical after
// normalization.
func SameNormalized(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// SplitPin splits a primary entry into package name and version. An entry
// without a recognized operator has an empty version.
func SplitPin(token string) (name, version string) {
	token = strings.TrimSpace(token)
	for _, op := range pinOperators {
		if i := strings.Index(token, op); i > 0 {
			return strings.TrimSpace(token[:i]), strings.TrimSpace(token[i+len(op):])
		}
	}
	// Conda also accepts "name version" with a space.
	if i := strings.IndexByte(token, ' '); i > 0 {
		return token[:i], strings.TrimSpace(token[i+1:])
	}
	return token, ""
}

// Pin joins a name and version with the fixed separator.
func Pin(name, version string) string {
	if version == "" {
		return name
	}
	return name + PinSeparator + version
}

// IsEditable reports whether a pip entry installs a local source tree in
// place. These entries are never rewritten by any repair cycle.
func IsEditable(entry string) bool {
	trimmed := strings.TrimSpace(entry)
	return strings.HasPrefix(trimmed, "-e ") || strings.HasPrefix(trimmed, "--editable ")
}

// RelaxPins derives a spec with every primary-section version constraint
// removed, the interpreter pin included. The pip section is left untouched;
// editable installs live there and keep their exact form.
func (s Spec) RelaxPins() Spec {
	out := s
	out.Dependencies.Conda = make([]string, 0, len(s.Dependencies.Conda))
	for _, entry := range s.Dependencies.Conda {
		name, _ := SplitPin(entry)
		out.Dependencies.Conda = append(out.Dependencies.Conda, name)
	}
	out.Dependencies.Pip = append([]string(nil), s.Dependencies.Pip...)
	return out
}

// HasInterpreterPin reports whether the primary section pins the runtime
// version.
func (s Spec) HasInterpreterPin() bool {
	for _, entry := range s.Dependencies.Conda {
		name, version := SplitPin(entry)
		if name == "python" && version != "" {
			return true
		}
	}
	return false
}

// EnsurePython derives a spec whose primary section starts with a pinned
// interpreter. An existing python entry, pinned or not, is preserved.
func (s Spec) EnsurePython(version string) Spec {
	for _, entry := range s.Dependencies.Conda {
		if name, _ := SplitPin(entry); name == "python" {
			return s
		}
	}
	out := s
	out.Dependencies.Conda = append([]string{Pin("python", version)}, s.Dependencies.Conda...)
	out.Dependencies.Pip = append([]string(nil), s.Dependencies.Pip...)
	return out
}

// AddEditableInstall derives a spec whose pip section installs dir in place
// by absolute path. A bare "-e ." entry is replaced; an equivalent entry is
// not duplicated.
func (s Spec) AddEditableInstall(dir string) Spec {
	entry := "-e " + dir
	out := s
	out.Dependencies.Conda = append([]string(nil), s.Dependencies.Conda...)
	out.Dependencies.Pip = make([]string, 0, len(s.Dependencies.Pip)+1)
	for _, p := range s.Dependencies.Pip {
		if strings.TrimSpace(p) == "-e ." || strings.TrimSpace(p) == entry {
			continue
		}
		out.Dependencies.Pip = append(out.Dependencies.Pip, p)
	}
	out.Dependencies.Pip = append(out.Dependencies.Pip, entry)
	return out
}

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// SanitizeName turns an arbitrary project name into a valid environment
// name.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = nameSanitizeRe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-._")
	if name == "" {
		return "project-env"
	}
	return name
}
