package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")
	cfgPath := filepath.Join(dir, "sage.json")

	content := fmt.Sprintf(`{"session": {"db_path": %q, "retention_days": 30}}`, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestCleanupCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"cleanup", "--config", cfgPath, "--days", "5"})

	output := &bytes.Buffer{}
	cmd.SetOut(output)

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, output.String(), "Removed 0 stale sessions")
	assert.Contains(t, output.String(), "5 days")
}

func TestCleanupCommandDefaultsToRetention(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"cleanup", "--config", cfgPath, "--days", "0"})

	output := &bytes.Buffer{}
	cmd.SetOut(output)

	err := cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, output.String(), "30 days")
}
