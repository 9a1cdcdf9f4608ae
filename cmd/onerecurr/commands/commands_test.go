package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func baseArgs(t *testing.T) []string {
	return []string{"--rpc", "", "--home", t.TempDir(), "--log-level", "error"}
}

func TestPriceCommands(t *testing.T) {
	base := baseArgs(t)

	out, err := run(t, append([]string{"price", "thresholds"}, base...)...)
	require.NoError(t, err)
	var th map[string]uint64
	require.NoError(t, json.Unmarshal([]byte(out), &th))
	assert.Equal(t, uint64(9500), th["min"])

	out, err = run(t, append([]string{"price", "check", "1100", "1000"}, base...)...)
	require.NoError(t, err)
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, false, res["valid"])

	_, err = run(t, append([]string{"price", "check", "abc", "1000"}, base...)...)
	assert.Error(t, err)

	_, err = run(t, append([]string{"action", "count"}, base...)...)
	assert.ErrorIs(t, err, errNoChain)
}

func TestSessionSurvivesRestart(t *testing.T) {
	base := append(baseArgs(t), "--wallet-key", testKey)

	out, err := run(t, append([]string{"session", "status"}, base...)...)
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, false, status["active"])

	out, err = run(t, append([]string{"session", "create"}, base...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.Equal(t, true, status["active"])
	created := status["session_address"]

	out, err = run(t, append([]string{"session", "status"}, base...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["active"])
	assert.Equal(t, created, status["session_address"])

	_, err = run(t, append([]string{"session", "clear"}, base...)...)
	require.NoError(t, err)

	out, err = run(t, append([]string{"session", "status"}, base...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, false, status["active"])
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := run(t, append([]string{"price", "thresholds", "--executor", "0x12"}, baseArgs(t)...)...)
	assert.Error(t, err)
}

func TestWalletCommands(t *testing.T) {
	base := append(baseArgs(t), "--wallet-key", testKey)

	out, err := run(t, append([]string{"wallet", "providers"}, base...)...)
	require.NoError(t, err)
	var providers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "local.onerecurr", providers[0]["rdns"])

	out, err = run(t, append([]string{"wallet", "connect", providers[0]["uuid"].(string)}, base...)...)
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, true, state["connected"])

	_, err = run(t, append([]string{"wallet", "connect", "missing"}, base...)...)
	assert.Error(t, err)

	out, err = run(t, append([]string{"wallet", "disconnect"}, base...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, false, state["connected"])
}
