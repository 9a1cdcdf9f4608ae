package service

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/layer-3/onerecurr/internal/contracts"
	"github.com/layer-3/onerecurr/ports"
)

var (
	simChainID = big.NewInt(31337)
	hookAddr   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// simChain executes ActionExecutor and PriceCheckHook calls in memory.
type simChain struct {
	mu       sync.Mutex
	count    *big.Int
	min, max *big.Int
	owner    common.Address
	revert   bool
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	block    uint64
}

var _ ports.ChainClient = (*simChain)(nil)

func newSimChain(owner common.Address) *simChain {
	return &simChain{
		count:    new(big.Int),
		min:      big.NewInt(9500),
		max:      big.NewInt(10500),
		owner:    owner,
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *simChain) ChainID(context.Context) (*big.Int, error) { return simChainID, nil }

func (c *simChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.block), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (c *simChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *simChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *simChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 60_000, nil }

func (c *simChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (c *simChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if *msg.To == actionExecutor {
		m, err := contracts.ActionExecutor.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		switch m.Name {
		case "actionCount":
			return m.Outputs.Pack(new(big.Int).Set(c.count))
		case "owner":
			return m.Outputs.Pack(c.owner)
		}
		return nil, fmt.Errorf("unexpected call %s", m.Name)
	}

	m, err := contracts.PriceCheckHook.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "getThresholds":
		return m.Outputs.Pack(c.min, c.max)
	case "checkPrice":
		args, err := m.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		proposed, oracle := args[0].(*big.Int), args[1].(*big.Int)
		lo := new(big.Int).Quo(new(big.Int).Mul(oracle, c.min), big.NewInt(10000))
		hi := new(big.Int).Quo(new(big.Int).Mul(oracle, c.max), big.NewInt(10000))
		valid := proposed.Cmp(lo) >= 0 && proposed.Cmp(hi) <= 0
		return m.Outputs.Pack(valid, lo, hi)
	}
	return nil, fmt.Errorf("unexpected call %s", m.Name)
}

func (c *simChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(simChainID), tx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.Nonce() != c.nonces[from] {
		return fmt.Errorf("nonce too low")
	}
	c.nonces[from]++
	c.block++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
	switch {
	case c.revert:
		receipt.Status = types.ReceiptStatusFailed
	case *tx.To() == actionExecutor && bytes.Equal(tx.Data()[:4], contracts.ActionExecutor.Methods["performAction"].ID):
		c.count.Add(c.count, big.NewInt(1))
		event := contracts.ActionExecutor.Events["ActionPerformed"]
		data, _ := event.Inputs.NonIndexed().Pack(new(big.Int).Set(c.count))
		receipt.Logs = []*types.Log{{
			Address: actionExecutor,
			Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes())},
			Data:    data,
		}}
	case *tx.To() == hookAddr && bytes.Equal(tx.Data()[:4], contracts.PriceCheckHook.Methods["validateSwapPrice"].ID):
		args, err := contracts.PriceCheckHook.Methods["validateSwapPrice"].Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return err
		}
		proposed, oracle := args[0].(*big.Int), args[1].(*big.Int)
		lo := new(big.Int).Quo(new(big.Int).Mul(oracle, c.min), big.NewInt(10000))
		hi := new(big.Int).Quo(new(big.Int).Mul(oracle, c.max), big.NewInt(10000))
		within := proposed.Cmp(lo) >= 0 && proposed.Cmp(hi) <= 0
		event := contracts.PriceCheckHook.Events["PriceValidated"]
		data, _ := event.Inputs.NonIndexed().Pack(proposed, oracle, within, within)
		receipt.Logs = []*types.Log{{Address: hookAddr, Topics: []common.Hash{event.ID}, Data: data}}
	case *tx.To() == hookAddr && bytes.Equal(tx.Data()[:4], contracts.PriceCheckHook.Methods["setThresholds"].ID):
		if from != c.owner {
			receipt.Status = types.ReceiptStatusFailed
			break
		}
		args, err := contracts.PriceCheckHook.Methods["setThresholds"].Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return err
		}
		event := contracts.PriceCheckHook.Events["ThresholdsUpdated"]
		data, _ := event.Inputs.NonIndexed().Pack(c.min, c.max, args[0], args[1])
		c.min, c.max = args[0].(*big.Int), args[1].(*big.Int)
		receipt.Logs = []*types.Log{{
			Address: hookAddr,
			Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes())},
			Data:    data,
		}}
	}
	c.receipts[tx.Hash()] = receipt
	return nil
}

func (c *simChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}
