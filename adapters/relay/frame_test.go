package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrames(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		typ       string
		method    string
		id        int64
		channelID string
		errMsg    string
	}{
		{
			name:      "json-rpc result",
			raw:       `{"jsonrpc":"2.0","id":42,"method":"channel_open","result":{"channelId":"0xabc"}}`,
			method:    "channel_open",
			id:        42,
			channelID: "0xabc",
		},
		{
			name:   "json-rpc error",
			raw:    `{"jsonrpc":"2.0","id":7,"error":{"code":-32000,"message":"insufficient deposit"}}`,
			id:     7,
			errMsg: "insufficient deposit",
		},
		{
			name: "typed pong",
			raw:  `{"type":"pong","timestamp":1}`,
			typ:  "pong",
		},
		{
			name:      "compact response",
			raw:       `{"res":[9,"create_channel",{"channelId":"0xdef"},1700000000],"sig":["0x"]}`,
			method:    "create_channel",
			id:        9,
			channelID: "0xdef",
		},
		{
			name:   "compact error",
			raw:    `{"err":[3,"error","channel not found"]}`,
			method: "error",
			id:     3,
			errMsg: "channel not found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.typ, f.Type)
			assert.Equal(t, tc.method, f.Method)
			assert.Equal(t, tc.id, f.ID)
			assert.Equal(t, tc.channelID, f.ChannelID)
			assert.Equal(t, tc.errMsg, f.Error)
			assert.Equal(t, tc.errMsg != "", f.IsError())
			assert.JSONEq(t, tc.raw, string(f.Raw))
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
	_, err = Parse([]byte(`[1,2,3]`))
	assert.Error(t, err)
}
