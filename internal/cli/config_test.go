package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestConfigInit(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "agentrelay.json")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "allowed_origins")

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "agentrelay.json")
	require.NoError(t, writeFile(path, `{"server": {"port": 9300}}`))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"port": 9300`)
}

func TestConfigCheck(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "api_key")
	require.NoError(t, writeFile(keyFile, "sk-ant-api03-test\n"))

	path := filepath.Join(dir, "agentrelay.json")
	require.NoError(t, writeFile(path, `{
		"credentials": {
			"anthropic": {"key_file": "`+keyFile+`", "env_var": "RELAY_TEST_UNSET_A"},
			"openai": {"key_file": "`+filepath.Join(dir, "missing")+`", "env_var": "RELAY_TEST_UNSET_O"}
		}
	}`))

	out, err := execute(t, "--config", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration: ok")
	assert.Contains(t, out, "anthropic: found")
	assert.Contains(t, out, "openai: missing")
}

func TestConfigInvalid(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "agentrelay.json")
	require.NoError(t, writeFile(path, `{"server": {"port": -1}}`))

	_, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
