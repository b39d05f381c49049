package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-tnsq/verbex/internal/version"
)

type testEnvelope struct {
	Version string          `json:"version"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
		Command   string `json:"command"`
		Network   string `json:"network"`
		Cache     struct {
			Status string `json:"status"`
		} `json:"cache"`
	} `json:"meta"`
}

// runCLI executes the runner against isolated config and cache directories
// so host configuration never leaks into assertions.
func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("VERBEX_NETWORK", "")
	t.Setenv("VERBEX_ACCOUNT", "")
	t.Setenv("VERBEX_SECRET_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	var stdout, stderr bytes.Buffer
	runner := NewRunnerWithWriters(&stdout, &stderr)
	code := runner.Run(args)
	return stdout.String(), stderr.String(), code
}

func decodeEnvelope(t *testing.T, raw string) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env), "envelope output: %s", raw)
	return env
}

func TestVersionCommand(t *testing.T) {
	stdout, stderr, code := runCLI(t, "version")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	assert.Equal(t, version.CLIVersion, strings.TrimSpace(stdout))
}

func TestVersionLongIncludesName(t *testing.T) {
	stdout, _, code := runCLI(t, "version", "--long")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, version.CLIName)
}

func TestSchemaEnvelope(t *testing.T) {
	stdout, stderr, code := runCLI(t, "schema", "quote")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	env := decodeEnvelope(t, stdout)
	assert.True(t, env.Success)
	assert.Equal(t, "schema", env.Meta.Command)
	assert.Equal(t, "testnet", env.Meta.Network)
	assert.Equal(t, "bypass", env.Meta.Cache.Status)
	assert.NotEmpty(t, env.Meta.RequestID)

	var data struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, version.CLIName+" quote", data.Path)
}

func TestSchemaResultsOnlyStripsEnvelope(t *testing.T) {
	stdout, _, code := runCLI(t, "schema", "--results-only")
	require.Equal(t, 0, code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &raw))
	assert.Contains(t, raw, "path")
	assert.NotContains(t, raw, "meta")
	assert.NotContains(t, raw, "success")
}

func TestSchemaHonorsNetworkFlag(t *testing.T) {
	stdout, _, code := runCLI(t, "schema", "--network", "mainnet")
	require.Equal(t, 0, code)
	env := decodeEnvelope(t, stdout)
	assert.Equal(t, "mainnet", env.Meta.Network)
}

func TestUnknownNetworkIsUsageError(t *testing.T) {
	_, stderr, code := runCLI(t, "schema", "--network", "futurenet")
	require.Equal(t, 2, code)
	env := decodeEnvelope(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "usage", env.Error.Type)
}

func TestPolicyBlocksCommandOutsideAllowlist(t *testing.T) {
	_, stderr, code := runCLI(t, "--enable-commands", "quote,pool", "lend", "--asset", "XLM", "--amount", "5")
	require.Equal(t, 15, code)

	env := decodeEnvelope(t, stderr)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "blocked", env.Error.Type)
	assert.Contains(t, env.Error.Message, "lend")
}

func TestPolicyAllowsListedCommand(t *testing.T) {
	stdout, stderr, code := runCLI(t, "--enable-commands", "schema", "schema")
	require.Equal(t, 0, code, "stderr: %s", stderr)
	env := decodeEnvelope(t, stdout)
	assert.True(t, env.Success)
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	_, stderr, code := runCLI(t, "definitely-not-a-command")
	require.Equal(t, 2, code)
	env := decodeEnvelope(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "usage", env.Error.Type)
}

func TestConflictingOutputFlags(t *testing.T) {
	_, stderr, code := runCLI(t, "schema", "--json", "--plain")
	require.Equal(t, 2, code)
	env := decodeEnvelope(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "usage", env.Error.Type)
}

func TestPendingListStartsEmpty(t *testing.T) {
	stdout, stderr, code := runCLI(t, "pending", "list")
	require.Equal(t, 0, code, "stderr: %s", stderr)

	env := decodeEnvelope(t, stdout)
	assert.Equal(t, "pending list", env.Meta.Command)

	var data struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Zero(t, data.Count)
}

func TestChatRequiresAPIKey(t *testing.T) {
	_, stderr, code := runCLI(t, "chat", "lend", "100", "XLM")
	require.Equal(t, 10, code)
	env := decodeEnvelope(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "auth", env.Error.Type)
}

func TestShouldOpenCacheSkipsLocalCommands(t *testing.T) {
	for _, path := range []string{"", "version", "schema", "submit-signed", "pending", "pending list", "pending show", "pending sweep", "Pending  Sweep"} {
		assert.False(t, shouldOpenCache(path), "path %q", path)
	}
	for _, path := range []string{"quote", "pool", "vaults", "positions", "portfolio", "chat"} {
		assert.True(t, shouldOpenCache(path), "path %q", path)
	}
}

func TestSubmitSignedRequiresEnvelope(t *testing.T) {
	_, stderr, code := runCLI(t, "submit-signed")
	require.Equal(t, 2, code)
	env := decodeEnvelope(t, stderr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "usage", env.Error.Type)
}
