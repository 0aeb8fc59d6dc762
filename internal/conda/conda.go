// Package conda shells out to the conda (or mamba) binary to realize an
// environment spec. It is the only place a package manager subprocess is
// spawned.
package conda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Result captures one subprocess invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// CombinedOutput is the error text surfaced to diagnosis: stderr first,
// stdout appended, because conda writes solver errors to either stream
// depending on version.
func (r Result) CombinedOutput() string {
	return strings.TrimSpace(r.Stderr + "\n" + r.Stdout)
}

// Executor runs package-manager commands with a fixed binary resolved once.
type Executor struct {
	bin string
}

// New resolves the package-manager binary, preferring mamba when present.
func New() (*Executor, error) {
	for _, candidate := range []string{"mamba", "conda"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return &Executor{bin: path}, nil
		}
	}
	return nil, fmt.Errorf("neither mamba nor conda found in PATH")
}

// NewWithBinary pins an explicit binary; used by tests and doctor.
func NewWithBinary(bin string) *Executor { return &Executor{bin: bin} }

func (e *Executor) Binary() string { return e.bin }

// Available reports whether the executor can be constructed at all.
func Available() bool {
	_, err := New()
	return err == nil
}

// Version returns the package-manager version line.
func (e *Executor) Version(ctx context.Context) (string, error) {
	res, err := e.run(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", filepath.Base(e.bin), err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CreateEnvironment realizes the spec file into a named environment. A
// non-zero exit is not an error here; the caller reads Result and decides.
// Realization failure is recoverable state, not a Go error, until the retry
// budget runs out.
func (e *Executor) CreateEnvironment(ctx context.Context, specPath, name string) (Result, error) {
	args := []string{"env", "create", "--yes", "--file", specPath}
	if name != "" {
		args = append(args, "--name", name)
	}
	res, err := e.run(ctx, args...)
	if err != nil && res.ExitCode == -1 {
		// Could not even start or was killed (timeout): surface as error.
		return res, fmt.Errorf("run %s env create: %w", filepath.Base(e.bin), err)
	}
	return res, nil
}

// EnvironmentExists checks the named environment via `env list --json`.
func (e *Executor) EnvironmentExists(ctx context.Context, name string) (bool, error) {
	res, err := e.run(ctx, "env", "list", "--json")
	if err != nil {
		return false, fmt.Errorf("list environments: %w", err)
	}
	var listing struct {
		Envs []string `json:"envs"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &listing); err != nil {
		return false, fmt.Errorf("parse env listing: %w", err)
	}
	for _, env := range listing.Envs {
		if filepath.Base(env) == name {
			return true, nil
		}
	}
	return false, nil
}

// RemoveEnvironment deletes the named environment.
func (e *Executor) RemoveEnvironment(ctx context.Context, name string) error {
	res, err := e.run(ctx, "env", "remove", "--yes", "--name", name)
	if err != nil {
		return fmt.Errorf("remove environment %s: %w: %s", name, err, res.CombinedOutput())
	}
	return nil
}

func (e *Executor) run(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, e.bin, args...)
	var out bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	exit := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exit = ee.ExitCode()
		} else {
			exit = -1
		}
	}
	return Result{ExitCode: exit, Stdout: out.String(), Stderr: errBuf.String()}, err
}
