package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel       = "gemini-2.5-pro"
	DefaultMaxRetries  = 5
	DefaultStateDir    = ".envsmith"
	DefaultTimeout     = 30 * time.Minute
	DefaultAPIKeyEnv   = "GEMINI_API_KEY"
	DefaultPythonGuess = "3.11"
)

// Settings is the process-wide configuration, built once in the CLI and
// threaded through construction. Nothing in here is read from globals after
// startup.
type Settings struct {
	APIKey        string
	Model         string
	MaxRetries    int
	StateDir      string
	CreateTimeout time.Duration
}

// Options are the CLI-level overrides applied on top of the environment.
type Options struct {
	Model      string
	MaxRetries int
	StateDir   string
	Timeout    time.Duration
	APIKeyEnv  string
}

// Load resolves Settings from a .env file (if present), the host environment,
// and CLI overrides, in increasing precedence. A missing .env file is not an
// error; a missing API key is reported by Validate, not here, so that offline
// commands (locate, scan, doctor) work without credentials.
func Load(opts Options) Settings {
	_ = godotenv.Load()

	keyEnv := strings.TrimSpace(opts.APIKeyEnv)
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}

	s := Settings{
		APIKey:        strings.TrimSpace(os.Getenv(keyEnv)),
		Model:         DefaultModel,
		MaxRetries:    DefaultMaxRetries,
		StateDir:      DefaultStateDir,
		CreateTimeout: DefaultTimeout,
	}
	if opts.Model != "" {
		s.Model = opts.Model
	}
	if opts.MaxRetries > 0 {
		s.MaxRetries = opts.MaxRetries
	}
	if opts.StateDir != "" {
		s.StateDir = opts.StateDir
	}
	if opts.Timeout > 0 {
		s.CreateTimeout = opts.Timeout
	}
	return s
}

// Validate checks the fields needed for advisory-backed commands.
func (s Settings) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("missing advisory API key: set %s in the environment or a .env file", DefaultAPIKeyEnv)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", s.MaxRetries)
	}
	return nil
}
