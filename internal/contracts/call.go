package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Caller executes read-only calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call packs method and args, runs it against the latest block and unpacks the outputs.
func Call(ctx context.Context, c Caller, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// ActionPerformed is emitted once per performAction call.
type ActionPerformed struct {
	Caller   common.Address
	NewCount *big.Int
}

// ThresholdsUpdated is emitted by setThresholds.
type ThresholdsUpdated struct {
	OldMin, OldMax *big.Int
	NewMin, NewMax *big.Int
	UpdatedBy      common.Address
}

// ParseActionPerformed decodes an ActionPerformed log. ok is false for any other log.
func ParseActionPerformed(log *types.Log) (ev ActionPerformed, ok bool, err error) {
	event := ActionExecutor.Events["ActionPerformed"]
	if len(log.Topics) != 2 || log.Topics[0] != event.ID {
		return ev, false, nil
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return ev, false, fmt.Errorf("failed to decode ActionPerformed: %w", err)
	}
	ev.Caller = common.BytesToAddress(log.Topics[1].Bytes())
	ev.NewCount = values[0].(*big.Int)
	return ev, true, nil
}

// ParseThresholdsUpdated decodes a ThresholdsUpdated log. ok is false for any other log.
func ParseThresholdsUpdated(log *types.Log) (ev ThresholdsUpdated, ok bool, err error) {
	event := PriceCheckHook.Events["ThresholdsUpdated"]
	if len(log.Topics) != 2 || log.Topics[0] != event.ID {
		return ev, false, nil
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return ev, false, fmt.Errorf("failed to decode ThresholdsUpdated: %w", err)
	}
	ev.OldMin = values[0].(*big.Int)
	ev.OldMax = values[1].(*big.Int)
	ev.NewMin = values[2].(*big.Int)
	ev.NewMax = values[3].(*big.Int)
	ev.UpdatedBy = common.BytesToAddress(log.Topics[1].Bytes())
	return ev, true, nil
}

// PriceValidated is emitted by validateSwapPrice.
type PriceValidated struct {
	Proposed, Oracle *big.Int
	Valid            bool
	WithinBounds     bool
}

// ParsePriceValidated decodes a PriceValidated log. ok is false for any other log.
func ParsePriceValidated(log *types.Log) (ev PriceValidated, ok bool, err error) {
	event := PriceCheckHook.Events["PriceValidated"]
	if len(log.Topics) != 1 || log.Topics[0] != event.ID {
		return ev, false, nil
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return ev, false, fmt.Errorf("failed to decode PriceValidated: %w", err)
	}
	ev.Proposed = values[0].(*big.Int)
	ev.Oracle = values[1].(*big.Int)
	ev.Valid = values[2].(bool)
	ev.WithinBounds = values[3].(bool)
	return ev, true, nil
}
