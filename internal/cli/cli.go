// Package cli wires the envsmith command surface. Commands stay thin: flag
// parsing and output formatting here, behavior in internal/manager and the
// packages below it.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/envsmith/envsmith/internal/advisor"
	"github.com/envsmith/envsmith/internal/conda"
	"github.com/envsmith/envsmith/internal/config"
	"github.com/envsmith/envsmith/internal/evidence"
	"github.com/envsmith/envsmith/internal/manager"
	"github.com/envsmith/envsmith/internal/rootfind"
	"github.com/envsmith/envsmith/internal/scan"
	"github.com/envsmith/envsmith/internal/syscheck"
)

// Exit codes: 1 for pipeline failures, 2 when preflight rejects the host.
const (
	exitFailure   = 1
	exitPreflight = 2
)

func NewApp(version string) *cli.App {
	app := &cli.App{
		Name:    "envsmith",
		Usage:   "Derive and realize conda environments from project source trees",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state-dir", Value: config.DefaultStateDir, Usage: "Directory for the session journal and event logs"},
			&cli.StringFlag{Name: "model", Value: config.DefaultModel, Usage: "Advisory model name"},
			&cli.StringFlag{Name: "api-key-env", Value: config.DefaultAPIKeyEnv, Usage: "Environment variable holding the advisory API key"},
		},
		Commands: []*cli.Command{
			generateCmd(),
			locateCmd(),
			scanCmd(),
			createCmd(),
			doctorCmd(),
			historyCmd(),
		},
	}
	return app
}

func settingsFrom(c *cli.Context, maxRetries int, timeout time.Duration) config.Settings {
	return config.Load(config.Options{
		Model:      c.String("model"),
		MaxRetries: maxRetries,
		StateDir:   c.String("state-dir"),
		Timeout:    timeout,
		APIKeyEnv:  c.String("api-key-env"),
	})
}

// buildManager assembles the pipeline collaborators. The advisory client and
// the package-manager executor are both optional at this level; commands that
// need them fail later with a specific message.
func buildManager(c *cli.Context, settings config.Settings, needRealizer bool) (*manager.Manager, error) {
	var adv advisor.Advisor
	if settings.APIKey != "" {
		g, err := advisor.NewGemini(c.Context, settings.APIKey, settings.Model)
		if err != nil {
			return nil, err
		}
		adv = g
	} else {
		log.Printf("cli: no advisory API key set, advisory routes disabled")
	}

	var realizer manager.Realizer
	if needRealizer {
		if exe, err := conda.New(); err == nil {
			realizer = exe
		}
	}
	return manager.New(settings, adv, realizer)
}

func generateCmd() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Derive an environment.yml from a source tree and realize it",
		ArgsUsage: "<source> [dest]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-name", Aliases: []string{"n"}, Usage: "Environment name (default: derived from the project)"},
			&cli.StringFlag{Name: "python-version", Usage: "Interpreter version to target (default: inferred)"},
			&cli.BoolFlag{Name: "no-create", Usage: "Write the spec but skip environment creation"},
			&cli.IntFlag{Name: "max-retries", Value: config.DefaultMaxRetries, Usage: "Realization attempt budget"},
			&cli.DurationFlag{Name: "timeout", Value: config.DefaultTimeout, Usage: "Per-session realization timeout"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("usage: envsmith generate <source> [dest]", exitFailure)
			}
			settings := settingsFrom(c, c.Int("max-retries"), c.Duration("timeout"))
			m, err := buildManager(c, settings, !c.Bool("no-create"))
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			defer m.Close()

			res, err := m.Generate(c.Context, manager.GenerateOptions{
				SourcePath:    c.Args().Get(0),
				DestPath:      c.Args().Get(1),
				EnvName:       c.String("env-name"),
				PythonVersion: c.String("python-version"),
				NoCreate:      c.Bool("no-create"),
			})
			if err != nil {
				if errors.Is(err, manager.ErrPreflight) {
					return cli.Exit(err.Error(), exitPreflight)
				}
				return cli.Exit(err.Error(), exitFailure)
			}
			return outputJSON(c.App.Writer, generateSummary(res))
		},
	}
}

func locateCmd() *cli.Command {
	return &cli.Command{
		Name:      "locate",
		Usage:     "Print the effective project root under a path",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			start := c.Args().Get(0)
			if start == "" {
				start = "."
			}
			abs, err := filepath.Abs(start)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			root := rootfind.Locate(abs)
			return outputJSON(c.App.Writer, map[string]any{
				"path":    root.Path,
				"depth":   root.Depth,
				"score":   root.Score,
				"markers": root.Markers,
			})
		},
	}
}

func scanCmd() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Print the bounded evidence payload for a path (dry run)",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			start := c.Args().Get(0)
			if start == "" {
				start = "."
			}
			abs, err := filepath.Abs(start)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			root := rootfind.Locate(abs)
			ev, records, err := scan.NewCollector().Collect(root.Path)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			payload := evidence.Select(records, ev, evidence.DefaultBudgets())
			fmt.Fprint(c.App.Writer, payload.Text)
			log.Printf("cli: payload covers %d files (%d bytes, truncated=%v) under %s",
				payload.Files, len(payload.Text), payload.Truncated, root.Path)
			return nil
		},
	}
}

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Realize an existing environment.yml through the repair loop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Path to the environment spec"},
			&cli.StringFlag{Name: "env-name", Aliases: []string{"n"}, Usage: "Environment name (default: name field of the spec)"},
			&cli.IntFlag{Name: "max-retries", Value: config.DefaultMaxRetries, Usage: "Realization attempt budget"},
			&cli.DurationFlag{Name: "timeout", Value: config.DefaultTimeout, Usage: "Per-session realization timeout"},
		},
		Action: func(c *cli.Context) error {
			settings := settingsFrom(c, c.Int("max-retries"), c.Duration("timeout"))
			m, err := buildManager(c, settings, true)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			defer m.Close()

			res, err := m.Create(c.Context, manager.CreateOptions{
				SpecPath: c.String("file"),
				EnvName:  c.String("env-name"),
			})
			if err != nil {
				if errors.Is(err, manager.ErrPreflight) {
					return cli.Exit(err.Error(), exitPreflight)
				}
				return cli.Exit(err.Error(), exitFailure)
			}
			return outputJSON(c.App.Writer, generateSummary(res))
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Run preflight checks: package manager, disk space, hardware",
		Action: func(c *cli.Context) error {
			report := syscheck.Run(c.Context)
			for _, check := range report.Checks {
				mark := "ok"
				if !check.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(c.App.Writer, "%-16s %-5s %s\n", check.Name, mark, check.Message)
			}
			fmt.Fprintf(c.App.Writer, "%-16s %-5s %s\n", "system", "", report.SystemContext())
			if !report.Passed {
				return cli.Exit("preflight checks failed", exitPreflight)
			}
			return nil
		},
	}
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past provisioning sessions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum sessions to list"},
			&cli.StringFlag{Name: "session", Usage: "Show attempts and events for one session"},
			&cli.BoolFlag{Name: "events", Usage: "Include the raw event trail with --session"},
		},
		Action: func(c *cli.Context) error {
			settings := settingsFrom(c, 0, 0)
			m, err := manager.New(settings, nil, nil)
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			defer m.Close()

			if id := c.String("session"); id != "" {
				attempts, err := m.Attempts(id)
				if err != nil {
					return cli.Exit(err.Error(), exitFailure)
				}
				out := map[string]any{"sessionId": id, "attempts": attempts}
				if c.Bool("events") {
					events, err := m.Events(id)
					if err == nil {
						out["events"] = events
					}
				}
				return outputJSON(c.App.Writer, out)
			}

			sessions, err := m.History(c.Int("limit"))
			if err != nil {
				return cli.Exit(err.Error(), exitFailure)
			}
			return outputJSON(c.App.Writer, sessions)
		},
	}
}

func generateSummary(res manager.GenerateResult) map[string]any {
	out := map[string]any{
		"sessionId": res.SessionID,
		"source":    string(res.Source),
		"specPath":  res.SpecPath,
		"envName":   res.EnvName,
	}
	if res.Root.Path != "" {
		out["projectRoot"] = res.Root.Path
	}
	if res.PythonVersion != "" {
		out["pythonVersion"] = res.PythonVersion
	}
	if res.Outcome != nil {
		out["state"] = string(res.Outcome.State)
		out["attempts"] = res.Outcome.Attempts
		if res.Outcome.LastError != "" {
			out["lastError"] = res.Outcome.LastError
		}
	}
	return out
}

func outputJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
