// Package syscheck performs pre-flight validation before any analysis or
// realization: package manager presence, disk headroom, and a best-effort
// hardware inventory used as execution context for repair advice. No
// advisory calls happen here.
package syscheck

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/envsmith/envsmith/internal/conda"
)

const requiredDiskGB = 5.0

type Check struct {
	Name    string
	OK      bool
	Message string
}

type GPU struct {
	Kind   string // "nvidia" or "apple"
	Name   string
	Detail string
}

type Report struct {
	OS     string
	Arch   string
	Chip   string
	GPU    *GPU
	Checks []Check
	Passed bool
}

// SystemContext is the one-line hardware description fed to repair advice.
func (r Report) SystemContext() string {
	s := fmt.Sprintf("%s (%s)", r.OS, r.Arch)
	if r.Chip != "" {
		s += " - " + r.Chip
	}
	if r.GPU != nil {
		s += fmt.Sprintf(", GPU: %s", r.GPU.Name)
	} else {
		s += ", no GPU detected"
	}
	return s
}

// Run executes all pre-flight checks. Hardware probes that fail are reported
// but never fatal; only a missing package manager or insufficient disk fails
// the report.
func Run(ctx context.Context) Report {
	r := Report{OS: runtime.GOOS, Arch: runtime.GOARCH, Passed: true}
	r.Chip = chipInfo(ctx)
	r.GPU = detectGPU(ctx)

	if exe, err := conda.New(); err != nil {
		r.Checks = append(r.Checks, Check{Name: "package manager", OK: false, Message: err.Error()})
		r.Passed = false
	} else if version, err := exe.Version(ctx); err != nil {
		r.Checks = append(r.Checks, Check{Name: "package manager", OK: false, Message: err.Error()})
		r.Passed = false
	} else {
		r.Checks = append(r.Checks, Check{Name: "package manager", OK: true, Message: version})
	}

	freeGB, err := diskFreeGB(".")
	switch {
	case err != nil:
		r.Checks = append(r.Checks, Check{Name: "disk space", OK: true, Message: "check skipped: " + err.Error()})
	case freeGB < requiredDiskGB:
		r.Checks = append(r.Checks, Check{Name: "disk space", OK: false, Message: fmt.Sprintf("insufficient: %.1f GB free, %.1f GB required", freeGB, requiredDiskGB)})
		r.Passed = false
	default:
		r.Checks = append(r.Checks, Check{Name: "disk space", OK: true, Message: fmt.Sprintf("%.1f GB free", freeGB)})
	}

	if r.GPU != nil {
		r.Checks = append(r.Checks, Check{Name: "gpu", OK: true, Message: r.GPU.Name + " " + r.GPU.Detail})
	} else {
		r.Checks = append(r.Checks, Check{Name: "gpu", OK: true, Message: "none detected; code evidence decides acceleration"})
	}
	return r
}

func chipInfo(ctx context.Context) string {
	if runtime.GOOS != "darwin" {
		return ""
	}
	out, err := exec.CommandContext(ctx, "sysctl", "-n", "machdep.cpu.brand_string").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// detectGPU probes nvidia-smi first, then the macOS display inventory.
func detectGPU(ctx context.Context) *GPU {
	if gpu := detectNvidia(ctx); gpu != nil {
		return gpu
	}
	if runtime.GOOS == "darwin" {
		return detectAppleGPU(ctx)
	}
	return nil
}

func detectNvidia(ctx context.Context) *GPU {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,driver_version,memory.total", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	gpu := &GPU{Kind: "nvidia", Name: strings.TrimSpace(parts[0])}
	if len(parts) >= 3 {
		gpu.Detail = fmt.Sprintf("(driver %s, %s)", strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]))
	}
	return gpu
}

func detectAppleGPU(ctx context.Context) *GPU {
	out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType").Output()
	if err != nil {
		return nil
	}
	var name, metal string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Chipset Model:"); ok {
			name = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Metal Support:"); ok {
			metal = strings.TrimSpace(v)
		}
	}
	if name == "" {
		return nil
	}
	kind := "apple"
	if !strings.Contains(name, "Apple") {
		kind = "discrete"
	}
	return &GPU{Kind: kind, Name: name, Detail: "(Metal: " + metal + ")"}
}
