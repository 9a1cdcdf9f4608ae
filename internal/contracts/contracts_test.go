package contracts

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedCaller struct {
	calls [][]byte
	out   []byte
}

func (c *cannedCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls = append(c.calls, msg.Data)
	return c.out, nil
}

func TestCallCheckPrice(t *testing.T) {
	method := PriceCheckHook.Methods["checkPrice"]
	out, err := method.Outputs.Pack(true, big.NewInt(95), big.NewInt(105))
	require.NoError(t, err)

	c := &cannedCaller{out: out}
	hook := common.HexToAddress("0x01")
	values, err := Call(context.Background(), c, PriceCheckHook, hook, "checkPrice", big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, true, values[0])
	assert.Equal(t, int64(95), values[1].(*big.Int).Int64())

	require.Len(t, c.calls, 1)
	assert.Equal(t, method.ID, c.calls[0][:4])

	_, err = Call(context.Background(), c, PriceCheckHook, hook, "checkPrice", "not a number")
	assert.Error(t, err)
}

func TestParseActionPerformed(t *testing.T) {
	event := ActionExecutor.Events["ActionPerformed"]
	caller := common.HexToAddress("0xCAFE")
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(42))
	require.NoError(t, err)

	ev, ok, err := ParseActionPerformed(&types.Log{
		Topics: []common.Hash{event.ID, common.BytesToHash(caller.Bytes())},
		Data:   data,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, caller, ev.Caller)
	assert.Equal(t, int64(42), ev.NewCount.Int64())

	_, ok, err = ParseActionPerformed(&types.Log{Topics: []common.Hash{common.HexToHash("0x1")}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseThresholdsUpdated(t *testing.T) {
	event := PriceCheckHook.Events["ThresholdsUpdated"]
	owner := common.HexToAddress("0xBEEF")
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(9500), big.NewInt(10500), big.NewInt(9000), big.NewInt(11000))
	require.NoError(t, err)

	ev, ok, err := ParseThresholdsUpdated(&types.Log{
		Topics: []common.Hash{event.ID, common.BytesToHash(owner.Bytes())},
		Data:   data,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, owner, ev.UpdatedBy)
	assert.Equal(t, int64(9000), ev.NewMin.Int64())
	assert.Equal(t, int64(11000), ev.NewMax.Int64())
}

func TestParsePriceValidated(t *testing.T) {
	event := PriceCheckHook.Events["PriceValidated"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1100), big.NewInt(1000), false, false)
	require.NoError(t, err)

	ev, ok, err := ParsePriceValidated(&types.Log{Topics: []common.Hash{event.ID}, Data: data})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, ev.Valid)
	assert.Equal(t, int64(1100), ev.Proposed.Int64())

	_, ok, err = ParsePriceValidated(&types.Log{Topics: []common.Hash{PriceCheckHook.Events["ThresholdsUpdated"].ID}})
	require.NoError(t, err)
	assert.False(t, ok)
}
