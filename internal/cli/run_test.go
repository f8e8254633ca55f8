//go:build unix

package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "autocoder.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[sandbox]
dir = "`+filepath.Join(dir, "env")+`"
runtime = "sh"
timeout = "2s"
`), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		runKeep, runTimeout, runRuntime = false, 0, ""
	})
	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestRunCommandReportsOutput(t *testing.T) {
	out, err := executeRoot(t, "run", writeScript(t, "echo hello\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "Process ID: process_0")
	assert.Contains(t, out, "Status: 0")
	assert.Contains(t, out, "Stdout:\nhello")
}

func TestRunCommandPropagatesExitCode(t *testing.T) {
	out, err := executeRoot(t, "run", writeScript(t, "echo oops >&2\nexit 3\n"))
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 3, exit.code)
	assert.Contains(t, out, "Stderr:\noops")
}

func TestRunCommandStopsLongRunningCode(t *testing.T) {
	out, err := executeRoot(t, "run", "--timeout", "200ms", writeScript(t, "sleep 30\n"))
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 124, exit.code)
	assert.Contains(t, out, "Status: Running")
	assert.Contains(t, out, "Process process_0 has been stopped.")
}

func TestConfigCommandPrintsTOML(t *testing.T) {
	out, err := executeRoot(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, `runtime = "sh"`)
	assert.Contains(t, out, `timeout = "2s"`)
}

func TestVersionCommand(t *testing.T) {
	out, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "autocoder ")
}
