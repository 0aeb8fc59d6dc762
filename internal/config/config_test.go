package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "")

	s := Load(Options{})
	require.Equal(t, DefaultModel, s.Model)
	require.Equal(t, DefaultMaxRetries, s.MaxRetries)
	require.Equal(t, DefaultStateDir, s.StateDir)
	require.Equal(t, DefaultTimeout, s.CreateTimeout)
	require.Empty(t, s.APIKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CUSTOM_KEY", "  secret  ")

	s := Load(Options{
		Model:      "gemini-2.0-flash",
		MaxRetries: 9,
		StateDir:   "/tmp/state",
		Timeout:    time.Minute,
		APIKeyEnv:  "CUSTOM_KEY",
	})
	require.Equal(t, "gemini-2.0-flash", s.Model)
	require.Equal(t, 9, s.MaxRetries)
	require.Equal(t, "/tmp/state", s.StateDir)
	require.Equal(t, time.Minute, s.CreateTimeout)
	require.Equal(t, "secret", s.APIKey, "key is trimmed")
}

func TestValidate(t *testing.T) {
	require.Error(t, Settings{MaxRetries: 5}.Validate())
	require.Error(t, Settings{APIKey: "k", MaxRetries: 0}.Validate())
	require.NoError(t, Settings{APIKey: "k", MaxRetries: 1}.Validate())
}
