package repair

import (
	"strings"

	"github.com/envsmith/envsmith/internal/envspec"
)

// ErrorClass buckets a realization error for the deterministic fallback.
type ErrorClass string

const (
	ClassBuildToolchain     ErrorClass = "build-toolchain"
	ClassDependencyConflict ErrorClass = "dependency-conflict"
	ClassUnclassified       ErrorClass = "unclassified"
)

var conflictSignatures = []string{
	"LibMambaUnsatisfiableError",
	"UnsatisfiableError",
	"conflicts",
}

var buildSignatures = []string{
	"gcc",
	"g++",
	"Python.h",
	"build",
	"wheel",
	"cmake",
}

// Classify buckets error text by substring. Conflict signatures win over
// build signatures because solver output routinely mentions "build" strings
// while naming candidate packages.
func Classify(errText string) ErrorClass {
	for _, sig := range conflictSignatures {
		if strings.Contains(errText, sig) {
			return ClassDependencyConflict
		}
	}
	for _, sig := range buildSignatures {
		if strings.Contains(errText, sig) {
			return ClassBuildToolchain
		}
	}
	return ClassUnclassified
}

// Fallback applies exactly one mechanical rewrite for the error class and
// returns the derived spec plus a change description for the fix memory.
// Identical (spec, error) inputs always yield identical output.
//
// Dependency conflicts strip every primary-section version pin, the
// interpreter pin included; the pip section and its editable installs are
// never touched. Build-toolchain errors get no structural change: moving an
// entry between install sections requires authority the fallback
// intentionally lacks.
func Fallback(spec envspec.Spec, errText string) (envspec.Spec, string) {
	switch Classify(errText) {
	case ClassDependencyConflict:
		return spec.RelaxPins(), "fallback: relaxed primary version pins after solver conflict"
	case ClassBuildToolchain:
		return spec, "fallback: build-toolchain error, no structural change applied"
	default:
		return spec, "fallback: unclassified error, spec left unchanged"
	}
}
