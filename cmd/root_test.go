package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "citasniper", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"run", "drift", "times", "boundaries", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCmd()

	v := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, v)
	assert.Equal(t, "v", v.Shorthand)
	assert.Equal(t, "false", v.DefValue)

	c := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, c)
	assert.Equal(t, "c", c.Shorthand)
}

func TestRunFlags(t *testing.T) {
	cmd := NewRootCmd()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("date"))
	assert.NotNil(t, run.Flags().Lookup("time"))
}

func TestVersion(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "citasniper dev (commit=none, built=unknown)\n", out.String())
}

func TestBoundaries_LocalClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cita.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
branch_id: b
service_id: s
date: "2025-12-15"
release:
  weekdays: "*"
  window_start: "12:00"
  window_end: "12:02"
  step: 1m
`), 0o600))

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--config", path, "boundaries", "--local", "-n", "4"})

	require.NoError(t, cmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	for _, l := range lines {
		assert.Contains(t, l, ":00.000")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cita.yaml")
	require.NoError(t, os.WriteFile(path, []byte("branch_id: b\n"), 0o600))

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "boundaries", "--local"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service_id is required")
}
